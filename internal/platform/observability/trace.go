package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fixparts/api/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var (
	tracer     = otel.Tracer("github.com/fixparts/api/internal/platform/observability")
	propagator = propagation.TraceContext{}
)

// TraceMiddleware starts a server span per request. A W3C traceparent header wins over the
// Cloud Run X-Cloud-Trace-Context header when both are present. The resulting ids are stored in
// requestctx and echoed back in X-Cloud-Trace-Context when valid.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			if !trace.SpanContextFromContext(ctx).IsValid() {
				if remote, ok := parseCloudTraceHeader(r.Header.Get(cloudTraceHeader)); ok {
					ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
				}
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			info := requestctx.TraceInfo{ProjectID: projectID}
			if sc := span.SpanContext(); sc.IsValid() {
				info.TraceID = sc.TraceID().String()
				info.SpanID = sc.SpanID().String()
				info.Sampled = sc.IsSampled()
				w.Header().Set(cloudTraceHeader, formatCloudTraceHeader(info))
			}

			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

// parseCloudTraceHeader reads "TRACE_ID/SPAN_ID;o=OPTIONS". The span id is decimal on Google
// front ends but some proxies forward hex, so both are accepted.
func parseCloudTraceHeader(header string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseCloudSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseCloudSpanID(value string) (trace.SpanID, bool) {
	if value == "" {
		return trace.SpanID{}, false
	}
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		var id trace.SpanID
		binary.BigEndian.PutUint64(id[:], n)
		return id, id.IsValid()
	}
	if len(value) < 16 {
		value = strings.Repeat("0", 16-len(value)) + value
	}
	id, err := trace.SpanIDFromHex(value)
	if err != nil {
		return trace.SpanID{}, false
	}
	return id, true
}

func formatCloudTraceHeader(info requestctx.TraceInfo) string {
	sampled := 0
	if info.Sampled {
		sampled = 1
	}
	return fmt.Sprintf("%s/%s;o=%d", info.TraceID, info.SpanID, sampled)
}

func loggingTraceResource(info requestctx.TraceInfo) string {
	if info.ProjectID == "" || info.TraceID == "" {
		return ""
	}
	return "projects/" + info.ProjectID + "/traces/" + info.TraceID
}
