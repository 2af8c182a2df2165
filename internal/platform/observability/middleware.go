package observability

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fixparts/api/internal/platform/auth"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/platform/requestctx"
)

const replayHeader = "X-Idempotent-Replay"

// routeParams are chi URL parameters copied onto the access log when present.
var routeParams = map[string]string{
	"orderId":   "order_id",
	"productId": "product_id",
}

// InjectLoggerMiddleware puts logger on every request context.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware scopes the context logger to the request and writes one access log
// entry when the handler returns. Level follows the status class.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, _ := requestctx.Trace(ctx)
			if info.ProjectID == "" {
				info.ProjectID = projectID
			}

			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", clean(r.Method, 10)),
				zap.String("path", clean(r.URL.Path, 180)),
			}
			if info.TraceID != "" {
				fields = append(fields, zap.String("trace_id", info.TraceID))
			}
			if resource := loggingTraceResource(info); resource != "" {
				fields = append(fields, zap.String("logging.googleapis.com/trace", resource))
			}
			if identity, ok := auth.IdentityFromContext(ctx); ok {
				fields = append(fields,
					zap.String("customer_id", clean(identity.CustomerID, 64)),
					zap.String("role", string(identity.Role)),
				)
			}
			if ip := remoteIP(r); ip != "" {
				fields = append(fields, zap.String("remote_ip", ip))
			}

			logger := WithRequestFields(requestctx.Logger(ctx), fields...)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			completed := false
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if !completed {
					status = http.StatusInternalServerError
				}
				route := routePattern(r)
				annotateSpan(trace.SpanFromContext(r.Context()), route, status)

				entry := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				}
				entry = append(entry, paramFields(r)...)
				if ww.Header().Get(replayHeader) == "true" {
					entry = append(entry, zap.Bool("idempotent_replay", true))
				}
				logger.Log(levelForStatus(status), "request completed", entry...)
			}()

			next.ServeHTTP(ww, r)
			completed = true
		})
	}
}

// RecoveryMiddleware turns a handler panic into a logged 500 JSON error.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				requestctx.LoggerOr(ctx, fallback).Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func levelForStatus(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func annotateSpan(span trace.Span, route string, status int) {
	if !span.IsRecording() {
		return
	}
	span.SetName(route)
	span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return clean(pattern, 180)
		}
	}
	return "unmatched"
}

func paramFields(r *http.Request) []zap.Field {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return nil
	}
	var fields []zap.Field
	for param, key := range routeParams {
		if value := rc.URLParam(param); value != "" {
			fields = append(fields, zap.String(key, clean(value, 64)))
		}
	}
	return fields
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return clean(addr, 64)
}

// clean drops control characters and truncates, keeping request-supplied values out of log
// structure.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
