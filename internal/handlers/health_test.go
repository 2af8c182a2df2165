package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthzReportsBuild(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, domain.HealthStatusOK, body["status"])
	require.Equal(t, "1.0.0", body["version"])
	require.Equal(t, "abc123", body["commitSha"])
	require.Equal(t, "prod", body["environment"])
	require.Equal(t, "1m30s", body["uptime"])
}

func TestReadyzStatusCodes(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name        string
		report      services.SystemHealthReport
		wantCode    int
		wantDetails []string
	}{
		{
			name: "healthy",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusOK, Latency: 4 * time.Millisecond, CheckedAt: now},
				},
			},
			wantCode: http.StatusOK,
		},
		{
			name: "notifications degraded",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusOK},
					"pubsub":   {Status: domain.HealthStatusDegraded, Detail: "unreachable", Error: "topic order-events not found"},
				},
			},
			wantCode:    http.StatusOK,
			wantDetails: []string{"pubsub: topic order-events not found"},
		},
		{
			name: "order store down",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusError, Detail: "timeout", Error: "context deadline exceeded"},
					"pubsub":   {Status: domain.HealthStatusOK},
				},
			},
			wantCode:    http.StatusServiceUnavailable,
			wantDetails: []string{"postgres: context deadline exceeded"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(
				WithHealthSystemService(&stubSystemService{report: tc.report}),
				WithHealthClock(func() time.Time { return now }),
			)
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, tc.wantCode, rr.Code)
			var body struct {
				Status string `json:"status"`
				Checks map[string]struct {
					Status string `json:"status"`
				} `json:"checks"`
				Details []string `json:"details"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Equal(t, tc.report.Status, body.Status)
			require.Len(t, body.Checks, len(tc.report.Checks))
			require.Equal(t, tc.wantDetails, body.Details)
		})
	}
}

func TestReadyzServiceError(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("pool closed")}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"error":"unavailable"`)
}

func TestReadyzWithoutSystemServiceMirrorsHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
