package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/payments"
	"github.com/fixparts/api/internal/repositories"
)

var testAdmin = Actor{ID: "admin-1", Role: domain.RoleAdmin}

func newTestRefunds(t *testing.T, f *orderFixture) RefundService {
	t.Helper()
	svc, err := NewRefundService(RefundServiceDeps{
		Orders:   f.store.Orders(),
		Gateway:  f.gateway,
		Notifier: f.notifier,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("new refund service: %v", err)
	}
	return svc
}

func amountPtr(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func TestRefundServiceRequiresAdminAndPaidOrder(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 2})
	svc := newTestRefunds(t, f)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, RefundCommand{OrderID: order.ID, Actor: Actor{ID: "c1", Role: domain.RoleCustomer}}); !errors.Is(err, ErrRefundForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Refund(ctx, RefundCommand{OrderID: order.ID, Actor: testAdmin}); !errors.Is(err, ErrRefundInvalidState) {
		t.Fatalf("expected unpaid order to be rejected, got %v", err)
	}
	if f.gateway.refunds.Load() != 0 {
		t.Fatalf("gateway must not be called for rejected refunds")
	}
}

func TestRefundServicePartialThenFull(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.payOrder(t, f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 2}))
	var mu sync.Mutex
	var keys []string
	f.gateway.refundFn = func(_ context.Context, req payments.RefundRequest) (payments.Refund, error) {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, req.IdempotencyKey)
		return payments.Refund{ID: "re_" + req.IdempotencyKey, Amount: *req.Amount}, nil
	}
	svc := newTestRefunds(t, f)
	ctx := context.Background()

	partial, err := svc.Refund(ctx, RefundCommand{OrderID: order.ID, Amount: amountPtr("5.00"), Reason: "damaged <i>screen</i>", Actor: testAdmin})
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if partial.Order.Status != domain.OrderStatusPaid || partial.Order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected order to stay paid, got %s/%s", partial.Order.Status, partial.Order.PaymentStatus)
	}
	if !partial.Order.RefundedAmount.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("unexpected refunded amount %s", partial.Order.RefundedAmount)
	}

	if _, err := svc.Refund(ctx, RefundCommand{OrderID: order.ID, Amount: amountPtr("15.01"), Actor: testAdmin}); !errors.Is(err, ErrRefundInvalidInput) {
		t.Fatalf("expected over-refund to be rejected, got %v", err)
	}

	full, err := svc.Refund(ctx, RefundCommand{OrderID: order.ID, Actor: testAdmin})
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if full.Order.Status != domain.OrderStatusRefunded || full.Order.PaymentStatus != domain.PaymentStatusRefunded || full.Order.RefundedAt == nil {
		t.Fatalf("unexpected order after full refund %+v", full.Order)
	}
	if !full.Order.RefundedAmount.Equal(order.TotalAmount) {
		t.Fatalf("expected refunded amount to equal total, got %s", full.Order.RefundedAmount)
	}

	want := []string{order.ID + ":refund:0.00", order.ID + ":refund:5.00"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("unexpected idempotency keys %v", keys)
	}
	events := f.notifier.types()
	if events[len(events)-2] != OrderEventPartialRefund || events[len(events)-1] != OrderEventRefunded {
		t.Fatalf("unexpected notifications %v", events)
	}

	if _, err := svc.Refund(ctx, RefundCommand{OrderID: order.ID, Actor: testAdmin}); !errors.Is(err, ErrRefundInvalidState) {
		t.Fatalf("expected refunded order to be rejected, got %v", err)
	}
}

func TestRefundServiceGatewayFailureLeavesOrderUntouched(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.payOrder(t, f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 1}))
	f.gateway.refundFn = func(context.Context, payments.RefundRequest) (payments.Refund, error) {
		return payments.Refund{}, errors.New("card_declined")
	}
	svc := newTestRefunds(t, f)

	_, err := svc.Refund(context.Background(), RefundCommand{OrderID: order.ID, Actor: testAdmin})
	if ErrorKind(err) != KindGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
	stored, _ := f.orders.GetOrder(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusPaid || !stored.RefundedAmount.IsZero() {
		t.Fatalf("expected order untouched, got %s refunded %s", stored.Status, stored.RefundedAmount)
	}
}

func TestRefundServiceCancelledPaidOrderKeepsStatus(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.payOrder(t, f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 1}))
	ctx := context.Background()
	if _, err := f.orders.AdvanceStatus(ctx, AdvanceStatusCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if _, err := f.orders.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "admin-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	svc := newTestRefunds(t, f)

	result, err := svc.Refund(ctx, RefundCommand{OrderID: order.ID, Actor: testAdmin})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.Order.Status != domain.OrderStatusCancelled || result.Order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected cancelled/refunded, got %s/%s", result.Order.Status, result.Order.PaymentStatus)
	}
}

// interleavedOrders runs before once, right ahead of the first Update it sees, so another writer
// can land between a service's read and its write.
type interleavedOrders struct {
	repositories.OrderRepository
	before func(ctx context.Context)
}

func (r *interleavedOrders) Update(ctx context.Context, order Order, guard repositories.OrderGuard) error {
	if hook := r.before; hook != nil {
		r.before = nil
		hook(ctx)
	}
	return r.OrderRepository.Update(ctx, order, guard)
}

func TestAdvanceStatusDoesNotOverwriteInterleavedRefund(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "50.00", 5)
	order := f.payOrder(t, f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 2}))
	refunds := newTestRefunds(t, f)
	ctx := context.Background()

	orders := &interleavedOrders{OrderRepository: f.store.Orders()}
	orders.before = func(ctx context.Context) {
		if _, err := refunds.Refund(ctx, RefundCommand{OrderID: order.ID, Amount: amountPtr("30.00"), Actor: testAdmin}); err != nil {
			t.Fatalf("interleaved refund: %v", err)
		}
	}
	advancing, err := NewOrderService(OrderServiceDeps{
		Orders:    orders,
		Counters:  f.store.Counters(),
		Inventory: f.inventory,
		Gateway:   f.gateway,
		Clock:     fixedClock,
	})
	if err != nil {
		t.Fatalf("orders: %v", err)
	}

	if _, err := advancing.AdvanceStatus(ctx, AdvanceStatusCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusProcessing, ActorID: "admin-1"}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected stale advance to conflict, got %v", err)
	}
	stored, _ := f.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusPaid || !stored.RefundedAmount.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("expected paid with 30.00 refunded, got %s refunded %s", stored.Status, stored.RefundedAmount)
	}
	if !strings.Contains(stored.AdminNotes, "refunded 30.00 USD") {
		t.Fatalf("expected refund note kept, got %q", stored.AdminNotes)
	}

	result, err := f.orders.AdvanceStatus(ctx, AdvanceStatusCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusProcessing, ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("advance after re-read: %v", err)
	}
	if !result.Order.RefundedAmount.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("expected refunded amount to survive the transition, got %s", result.Order.RefundedAmount)
	}
}

func TestRefundRecordsOnTopOfInterleavedTransition(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "50.00", 5)
	order := f.payOrder(t, f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 2}))
	ctx := context.Background()

	orders := &interleavedOrders{OrderRepository: f.store.Orders()}
	orders.before = func(ctx context.Context) {
		if _, err := f.orders.AdvanceStatus(ctx, AdvanceStatusCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusProcessing, ActorID: "admin-1"}); err != nil {
			t.Fatalf("interleaved advance: %v", err)
		}
	}
	refunds, err := NewRefundService(RefundServiceDeps{Orders: orders, Gateway: f.gateway, Clock: fixedClock})
	if err != nil {
		t.Fatalf("refunds: %v", err)
	}

	result, err := refunds.Refund(ctx, RefundCommand{OrderID: order.ID, Amount: amountPtr("30.00"), Actor: testAdmin})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if f.gateway.refunds.Load() != 1 {
		t.Fatalf("expected a single gateway refund, got %d", f.gateway.refunds.Load())
	}
	if result.PreviousStatus != domain.OrderStatusProcessing {
		t.Fatalf("expected refund recorded against the processing order, got %s", result.PreviousStatus)
	}
	stored, _ := f.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusProcessing || !stored.RefundedAmount.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("expected processing with 30.00 refunded, got %s refunded %s", stored.Status, stored.RefundedAmount)
	}
	if stored.ProcessingAt == nil {
		t.Fatalf("expected the interleaved transition to be kept")
	}
}
