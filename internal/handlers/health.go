package handlers

import (
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/platform/requestctx"
	"github.com/fixparts/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  services.BuildInfo
	clock  func() time.Time
	system services.SystemService
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs probe handlers. Without a system service readiness mirrors liveness.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// WithHealthBuildInfo sets the build metadata reported by both probes.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthSystemService wires the dependency checks used by /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

type readyzResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime"`
	GeneratedAt string                        `json:"generatedAt"`
	Checks      map[string]healthCheckPayload `json:"checks"`
	Details     []string                      `json:"details,omitempty"`
}

// Healthz reports that the process is serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz runs the dependency checks. Only an error status (a critical dependency down) answers
// 503; a degraded report still routes traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	ctx := r.Context()
	report, err := h.system.HealthReport(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("readiness check failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "readiness check failed", http.StatusServiceUnavailable))
		return
	}

	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = h.clock()
	}
	payload := readyzResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		GeneratedAt: generated.UTC().Format(time.RFC3339),
		Checks:      make(map[string]healthCheckPayload, len(report.Checks)),
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		item := healthCheckPayload{
			Status:    check.Status,
			LatencyMS: check.Latency.Milliseconds(),
			Detail:    check.Detail,
			Error:     check.Error,
		}
		if !check.CheckedAt.IsZero() {
			item.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
		}
		payload.Checks[name] = item
		if check.Error != "" {
			payload.Details = append(payload.Details, name+": "+check.Error)
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, payload)
}
