package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
)

// BuildInfo is the release metadata reported by the probes.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires the readiness service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type systemService struct {
	health repositories.HealthRepository
	clock  func() time.Time
	build  BuildInfo
	logger func(context.Context, string, map[string]any)

	mu         sync.Mutex
	lastStatus string
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the service behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &systemService{
		health:     deps.HealthRepository,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
		logger:     logger,
		lastStatus: domain.HealthStatusOK,
	}, nil
}

// HealthReport collects dependency probes, stamps build metadata and recomputes the overall
// status from the individual checks. A change of overall status is logged once.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.CommitSHA) == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	status := domain.HealthStatusOK
	for _, check := range report.Checks {
		status = repositories.WorseHealthStatus(status, check.Status)
	}
	report.Status = repositories.WorseHealthStatus(status, report.Status)

	s.noteTransition(ctx, report)
	return report, nil
}

func (s *systemService) noteTransition(ctx context.Context, report SystemHealthReport) {
	s.mu.Lock()
	previous := s.lastStatus
	s.lastStatus = report.Status
	s.mu.Unlock()
	if previous == report.Status {
		return
	}

	failing := make([]string, 0, len(report.Checks))
	for name, check := range report.Checks {
		if check.Status != domain.HealthStatusOK {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	severity := "info"
	switch report.Status {
	case domain.HealthStatusError:
		severity = "error"
	case domain.HealthStatusDegraded:
		severity = "warn"
	}
	s.logger(ctx, "system.health.changed", map[string]any{
		"from":     previous,
		"to":       report.Status,
		"failing":  failing,
		"severity": severity,
	})
}
