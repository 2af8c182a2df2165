package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fixparts/api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger constructs a production-ready zap logger emitting structured JSON at the given level.
func NewLogger(levelName string) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(levelName)))); err != nil || strings.TrimSpace(levelName) == "" {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.MillisDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return cfg.Build()
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// ServiceLogger adapts zap to the event hook accepted by the services. The reserved "severity"
// field selects the level (warn, error; info otherwise) and is not emitted as a field. The
// request-scoped logger is preferred so request and trace ids follow the event.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.LoggerOr(ctx, base)

		level := zapcore.InfoLevel
		zapFields := make([]zap.Field, 0, len(fields)+1)
		zapFields = append(zapFields, zap.String("event", event))
		for key, value := range fields {
			if key == "severity" {
				switch strings.ToLower(stringValue(value)) {
				case "warn", "warning":
					level = zapcore.WarnLevel
				case "error":
					level = zapcore.ErrorLevel
				case "debug":
					level = zapcore.DebugLevel
				}
				continue
			}
			zapFields = append(zapFields, zap.Any(key, value))
		}

		if ce := logger.Check(level, event); ce != nil {
			ce.Write(zapFields...)
		}
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// WithRequestFields augments the logger with standard request-scoped fields.
func WithRequestFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(fields...)
}
