package services

import (
	"context"
	"errors"
	"time"
)

// DefaultSweepInterval is how often the sweeper looks for expired reservations.
const DefaultSweepInterval = time.Minute

// ReservationSweeperDeps configures the background sweep loop.
type ReservationSweeperDeps struct {
	Orders   OrderService
	Interval time.Duration
	// Timeout bounds a single pass.
	Timeout time.Duration
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// ReservationSweeper periodically cancels CREATED orders whose reservation window has passed.
type ReservationSweeper struct {
	orders   OrderService
	interval time.Duration
	timeout  time.Duration
	logger   func(context.Context, string, map[string]any)
}

// NewReservationSweeper validates dependencies and applies defaults.
func NewReservationSweeper(deps ReservationSweeperDeps) (*ReservationSweeper, error) {
	if deps.Orders == nil {
		return nil, errors.New("reservation sweeper: order service is required")
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = interval
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ReservationSweeper{
		orders:   deps.Orders,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *ReservationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single bounded sweep. Errors are logged; the next tick retries.
func (s *ReservationSweeper) RunOnce(ctx context.Context) SweepResult {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.orders.SweepExpired(runCtx)
	if err != nil && ctx.Err() == nil {
		s.logger(ctx, orderEventSweep, map[string]any{
			"severity": "error",
			"error":    err.Error(),
			"scanned":  result.Scanned,
		})
	}
	return result
}
