package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/fixparts/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. A failing Critical probe (the order store) makes the
// instance unready; any other failure only degrades the report, since order notifications and
// secret refreshes tolerate outages.
type DependencyCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout sets the timeout for probes that do not carry their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects the time source used for latency and timestamps.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository returns a HealthRepository that runs checks concurrently on
// every Collect. Names must be unique.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate dependency %s", name)
		}
		seen[name] = struct{}{}
	}

	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	outcomes := make([]domain.SystemHealthCheck, len(r.checks))
	var wg sync.WaitGroup
	for i := range r.checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = r.probe(ctx, r.checks[i])
		}(i)
	}
	wg.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(r.checks)),
		GeneratedAt: r.now(),
	}
	for i, check := range r.checks {
		report.Checks[strings.TrimSpace(check.Name)] = outcomes[i]
		report.Status = WorseHealthStatus(report.Status, outcomes[i].Status)
	}
	return report, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := check.Check(probeCtx)
	if err == nil {
		err = probeCtx.Err()
	}
	finished := r.now()

	outcome := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return outcome
	}

	outcome.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		outcome.Detail = "cancelled"
	default:
		outcome.Detail = "unreachable"
	}
	outcome.Status = domain.HealthStatusDegraded
	if check.Critical {
		outcome.Status = domain.HealthStatusError
	}
	return outcome
}

// WorseHealthStatus returns the more severe of two statuses. Unknown values rank as ok.
func WorseHealthStatus(current, next string) string {
	if healthRank(next) > healthRank(current) {
		return next
	}
	return current
}

func healthRank(status string) int {
	switch status {
	case domain.HealthStatusError:
		return 2
	case domain.HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}
