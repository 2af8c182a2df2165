package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/fixparts/api/internal/domain"
)

type logEntry struct {
	event  string
	fields map[string]any
}

func newTestPayments(t *testing.T, f *orderFixture, logs *[]logEntry) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:       f.store.Orders(),
		OrderService: f.orders,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if logs != nil {
				*logs = append(*logs, logEntry{event: event, fields: fields})
			}
		},
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func succeededEvent(order Order) GatewayEvent {
	return GatewayEvent{
		EventID:  "evt_1",
		IntentID: *order.PaymentIntentID,
		Status:   domain.IntentStatusSucceeded,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
	}
}

func TestPaymentServiceSucceededIsAppliedOnce(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 2})
	var logs []logEntry
	svc := newTestPayments(t, f, &logs)

	first, err := svc.OnGatewayEvent(context.Background(), succeededEvent(order))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Outcome != ReconcileApplied || first.Order.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := svc.OnGatewayEvent(context.Background(), succeededEvent(order))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if second.Outcome != ReconcileDuplicate {
		t.Fatalf("expected duplicate, got %s", second.Outcome)
	}
	if got := f.notifier.types(); len(got) != 1 {
		t.Fatalf("expected one notification, got %v", got)
	}

	if len(logs) != 2 {
		t.Fatalf("expected both deliveries to be logged, got %v", logs)
	}
	dup := logs[1]
	if dup.event != "payment.reconciled" || dup.fields["outcome"] != ReconcileDuplicate || dup.fields["eventId"] != "evt_1" {
		t.Fatalf("expected a duplicate reconciliation entry, got %s %v", dup.event, dup.fields)
	}
	if severity, ok := dup.fields["severity"]; ok && severity != "info" && severity != "debug" {
		t.Fatalf("expected duplicate logged below warning, got %v", severity)
	}
}

func TestPaymentServiceRejectsUnknownIntentAndMismatches(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 2})
	svc := newTestPayments(t, f, nil)
	ctx := context.Background()

	_, err := svc.OnGatewayEvent(ctx, GatewayEvent{IntentID: "pi_unknown", Status: domain.IntentStatusSucceeded})
	if !errors.Is(err, ErrPaymentUnknownIntent) {
		t.Fatalf("expected unknown intent, got %v", err)
	}

	short := succeededEvent(order)
	short.Amount = decimal.RequireFromString("5.00")
	result, err := svc.OnGatewayEvent(ctx, short)
	if !errors.Is(err, ErrPaymentAmountMismatch) || result.Outcome != ReconcileRejected {
		t.Fatalf("expected amount mismatch rejection, got %+v %v", result, err)
	}

	wrongCurrency := succeededEvent(order)
	wrongCurrency.Currency = "EUR"
	if _, err := svc.OnGatewayEvent(ctx, wrongCurrency); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected currency rejection, got %v", err)
	}

	stored, _ := f.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusCreated {
		t.Fatalf("expected order untouched, got %s", stored.Status)
	}
}

func TestPaymentServiceFailedCancelsAndReleases(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 3})
	svc := newTestPayments(t, f, nil)
	event := GatewayEvent{IntentID: *order.PaymentIntentID, Status: domain.IntentStatusFailed}

	result, err := svc.OnGatewayEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("failed event: %v", err)
	}
	if result.Outcome != ReconcileApplied || result.Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected payment status failed, got %s", result.Order.PaymentStatus)
	}
	if got := f.store.Stock("P"); got != 5 {
		t.Fatalf("expected stock released, got %d", got)
	}

	again, err := svc.OnGatewayEvent(context.Background(), event)
	if err != nil || again.Outcome != ReconcileDuplicate {
		t.Fatalf("expected duplicate on redelivery, got %+v %v", again, err)
	}
}

func TestPaymentServiceStaleFailureAfterSuccessIsIgnored(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.payOrder(t, f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 1}))
	svc := newTestPayments(t, f, nil)

	result, err := svc.OnGatewayEvent(context.Background(), GatewayEvent{IntentID: *order.PaymentIntentID, Status: domain.IntentStatusFailed})
	if err != nil || result.Outcome != ReconcileIgnored {
		t.Fatalf("expected ignored, got %+v %v", result, err)
	}
	stored, _ := f.orders.GetOrder(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order to stay paid, got %s", stored.Status)
	}
}

func TestPaymentServiceLateSuccessOnCancelledOrder(t *testing.T) {
	f := newOrderFixture(t)
	seedProduct(f.store, "P", "10.00", 5)
	order := f.createOrder(t, "k1", LineRequest{ProductID: "P", Quantity: 1})
	if _, err := f.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	var logs []logEntry
	svc := newTestPayments(t, f, &logs)

	_, err := svc.OnGatewayEvent(context.Background(), succeededEvent(order))
	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if len(logs) != 1 || logs[0].fields["severity"] != "error" {
		t.Fatalf("expected an error-severity log, got %v", logs)
	}
}
