package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fixparts/api/internal/platform/requestctx"
)

func TestRequestLoggerWritesAccessEntry(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware("fixparts-dev"))
	router.Get("/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_42", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").AllUntimed()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(t, "/orders/{orderId}", fields["route"])
	require.Equal(t, "ord_42", fields["order_id"])
	require.EqualValues(t, http.StatusNotFound, fields["status"])
	require.Equal(t, "GET", fields["method"])
}

func TestRecoveryMiddlewareReturnsJSON(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("stock ledger exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), `"error":"internal_error"`)
	require.NotContains(t, rec.Body.String(), "exploded")
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestTraceMiddlewareHonoursCloudTraceHeader(t *testing.T) {
	var traceID string
	handler := TraceMiddleware("fixparts-dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = requestctx.TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "105445aa7843bc8bf206b12000100000", traceID)
	require.True(t, strings.HasPrefix(rec.Header().Get(cloudTraceHeader), "105445aa7843bc8bf206b12000100000/"))
}

func TestTraceMiddlewarePrefersTraceparent(t *testing.T) {
	var traceID string
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = requestctx.TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
}

func TestParseCloudTraceHeaderRejectsGarbage(t *testing.T) {
	for _, header := range []string{"", "nope", "zz/1", "105445aa7843bc8bf206b12000100000/"} {
		_, ok := parseCloudTraceHeader(header)
		require.False(t, ok, header)
	}
}
