package logger

import (
	"context"
)

type loggerKey struct{}

// FromContext returns the logger stored in ctx, or the process wide one, bound to ctx so
// every record carries the diagnostic scope active in ctx.
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return Instance()
	}
	if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok && logger != nil {
		return logger.WithContext(ctx)
	}
	return Instance().WithContext(ctx)
}

// ContextWithLogger returns a context with the logger stored for later retrieval via FromContext
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// ContextWithFields returns a context with a logger to which the fields are appended
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	return ContextWithLogger(ctx, FromContext(ctx).With(fields...))
}
