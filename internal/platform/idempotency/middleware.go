package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fixparts/api/internal/platform/auth"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/platform/requestctx"
)

const (
	DefaultHeaderName = "Idempotency-Key"
	ReplayHeaderName  = "X-Idempotent-Replay"
)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects the fallback logger; the request-scoped logger wins when present.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware requires an idempotency key on the wrapped route and replays the first completed
// response for the same caller, key and request. Server errors (5xx) are not stored: the
// reservation is released so a retry with the same key runs the handler again, which lets a
// checkout whose payment intent failed be resumed.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		headerName: DefaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := loggerFor(ctx, cfg.logger)

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.headerName+" header", http.StatusBadRequest))
				return
			}
			if len(key) > MaxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key too long", http.StatusBadRequest))
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}

			caller := requester(ctx)
			fingerprint := requestFingerprint(r, body, caller)
			scoped := key + "|" + caller

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				logger.Error("idempotency: reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)

			persistCtx := context.WithoutCancel(ctx)
			if recorder.Status() >= http.StatusInternalServerError {
				if err := store.Release(persistCtx, scoped, fingerprint); err != nil {
					logger.Warn("idempotency: release after server error failed", zap.Error(err))
				}
			} else {
				response := Response{Status: recorder.Status(), Headers: recorder.header, Body: recorder.body.Bytes()}
				if err := store.SaveResponse(persistCtx, scoped, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
					logger.Error("idempotency: save response failed", zap.Error(err))
					if releaseErr := store.Release(persistCtx, scoped, fingerprint); releaseErr != nil {
						logger.Warn("idempotency: release after save failure failed", zap.Error(releaseErr))
					}
				}
			}

			if err := recorder.flush(w); err != nil {
				logger.Debug("idempotency: write response failed", zap.Error(err))
			}
		})
	}
}

// Cleanup removes expired records every interval until ctx is cancelled.
func Cleanup(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now, batch)
			if err != nil {
				logger.Warn("idempotency: cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency: expired keys removed", zap.Int("removed", removed))
			}
		}
	}
}

func loggerFor(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	return requestctx.LoggerOr(ctx, fallback)
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, caller string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(caller)
	b.WriteByte('|')
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func requester(ctx context.Context) string {
	identity, _ := auth.IdentityFromContext(ctx)
	return identity.Subject()
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		w.Header()[name] = values
	}
	w.Header().Set(ReplayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// responseRecorder buffers the handler response until it has been persisted.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) flush(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range r.header {
		dst[name] = append([]string(nil), values...)
	}
	w.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(r.body.Bytes())
	return err
}
