package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeps struct {
	OrderService
	calls atomic.Int64
	err   error
}

func (c *countingSweeps) SweepExpired(context.Context) (SweepResult, error) {
	c.calls.Add(1)
	return SweepResult{Scanned: 1}, c.err
}

func TestReservationSweeperRunOnceLogsFailures(t *testing.T) {
	orders := &countingSweeps{err: errors.New("db down")}
	var events []map[string]any
	sweeper, err := NewReservationSweeper(ReservationSweeperDeps{
		Orders: orders,
		Logger: func(_ context.Context, _ string, fields map[string]any) {
			events = append(events, fields)
		},
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	result := sweeper.RunOnce(context.Background())
	if result.Scanned != 1 || orders.calls.Load() != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(events) != 1 || events[0]["severity"] != "error" {
		t.Fatalf("expected failure to be logged, got %v", events)
	}
}

func TestReservationSweeperRunStopsWithContext(t *testing.T) {
	orders := &countingSweeps{}
	sweeper, err := NewReservationSweeper(ReservationSweeperDeps{Orders: orders, Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for orders.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated sweeps, got %d", orders.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after cancel")
	}
}

func TestNewReservationSweeperRequiresOrders(t *testing.T) {
	if _, err := NewReservationSweeper(ReservationSweeperDeps{}); err == nil {
		t.Fatalf("expected error without order service")
	}
}
