// Package requestctx carries the request-scoped logger and trace ids between middleware,
// handlers and services.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

var nop = zap.NewNop()

// TraceInfo identifies the server span handling the request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger returns ctx carrying logger. A nil logger clears any scoped logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the scoped logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	return LoggerOr(ctx, nop)
}

// LoggerOr returns the scoped logger, or fallback when none is set.
func LoggerOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback == nil {
		return nop
	}
	return fallback
}

// WithTrace returns ctx carrying info.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace reports the trace ids stored on ctx.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID is shorthand for Trace(ctx).TraceID.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
