package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ammex.com/internal/app"
)

func main() {
	// 收到 SIGINT/SIGTERM 时取消 ctx，触发优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "exchange: %v\n", err)
		os.Exit(1)
	}
}
