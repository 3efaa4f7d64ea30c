package common

import (
	"context"

	"github.com/google/uuid"

	"ammex.com/pkg/logger"
)

func New() string { return uuid.NewString() }

// WithRequestID ctx 里没有 id 时生成一个；日志通过 logger.TraceIdKey 带出来
func WithRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := New()
	//nolint:staticcheck // 和 logger 约定的字符串 key
	return context.WithValue(ctx, logger.TraceIdKey, id), id
}

// 获取id
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(logger.TraceIdKey).(string); ok {
		return v
	}
	return ""
}
