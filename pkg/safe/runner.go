package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"ammex.com/pkg/logger"
)

// Go 安全启动协程
func Go(fn func()) {
	go func() {
		defer Recover(context.Background(), "goroutine")
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，便于在日志中保留链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer Recover(ctx, "goroutine")
		fn(ctx)
	}()
}

// Recover 必须直接 defer 调用；吞掉 panic 并打日志，返回是否发生过 panic 由调用方自己判断
func Recover(ctx context.Context, where string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "🚨 PANIC RECOVERED",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}

// Call 同步执行 fn，panic 转成 recovered=true
func Call(ctx context.Context, where string, fn func()) (recovered bool) {
	defer func() {
		if r := recover(); r != nil {
			recovered = true
			logger.Error(ctx, "🚨 PANIC RECOVERED",
				zap.String("where", where),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
	return false
}
