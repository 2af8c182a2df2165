package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
)

const eventPaymentReconciled = "payment.reconciled"

// PaymentServiceDeps wires the reconciliation service.
type PaymentServiceDeps struct {
	Orders       repositories.OrderRepository
	OrderService OrderService
	Meter        metric.Meter
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders    repositories.OrderRepository
	lifecycle OrderService
	events    metric.Int64Counter
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.OrderService == nil {
		return nil, errors.New("payment service: order service is required")
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	events, err := meter.Int64Counter(
		"fixparts.reconciliation.events",
		metric.WithDescription("Gateway events processed by the reconciler, by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("payment service: create events counter: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:    deps.Orders,
		lifecycle: deps.OrderService,
		events:    events,
		logger:    logger,
	}, nil
}

// OnGatewayEvent applies a verified gateway event to the order that owns the intent. Redelivered
// events resolve to the duplicate outcome without side effects.
func (s *paymentService) OnGatewayEvent(ctx context.Context, event GatewayEvent) (ReconcileResult, error) {
	intentID := strings.TrimSpace(event.IntentID)
	if intentID == "" {
		return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileRejected}, fmt.Errorf("%w: intent id is required", ErrPaymentInvalidInput))
	}

	order, err := s.orders.FindByPaymentIntentID(ctx, intentID)
	if err != nil {
		mapped := mapRepositoryError(err, ErrPaymentUnknownIntent, nil, "payment")
		return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileRejected}, mapped)
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, order.Currency) {
		err := fmt.Errorf("%w: currency %s does not match order currency %s", ErrPaymentInvalidInput, event.Currency, order.Currency)
		return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileRejected, Order: order}, err)
	}

	switch event.Status {
	case domain.IntentStatusSucceeded:
		transition, err := s.lifecycle.MarkPaid(ctx, MarkPaidCommand{
			OrderID:  order.ID,
			IntentID: intentID,
			Amount:   event.Amount,
			Currency: event.Currency,
		})
		if err != nil {
			return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileRejected, Order: order}, err)
		}
		return s.finish(ctx, event, fromTransition(transition), nil)

	case domain.IntentStatusFailed:
		switch order.Status {
		case domain.OrderStatusCreated:
			transition, err := s.lifecycle.Cancel(ctx, CancelOrderCommand{
				OrderID: order.ID,
				Cause:   CancelCausePaymentFailed,
				Reason:  "payment failed at gateway",
				ActorID: systemActor,
			})
			if err != nil {
				return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileRejected, Order: order}, err)
			}
			return s.finish(ctx, event, fromTransition(transition), nil)
		case domain.OrderStatusCancelled:
			return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileDuplicate, Order: order}, nil)
		default:
			// Failure reported after a success is stale.
			return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileIgnored, Order: order}, nil)
		}

	case domain.IntentStatusRefunded, domain.IntentStatusRequiresPayment, domain.IntentStatusProcessing:
		return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileIgnored, Order: order}, nil)

	default:
		err := fmt.Errorf("%w: unsupported intent status %q", ErrPaymentInvalidInput, event.Status)
		return s.finish(ctx, event, ReconcileResult{Outcome: ReconcileRejected, Order: order}, err)
	}
}

func fromTransition(transition TransitionResult) ReconcileResult {
	outcome := ReconcileApplied
	if transition.AlreadyApplied {
		outcome = ReconcileDuplicate
	}
	return ReconcileResult{Outcome: outcome, Order: transition.Order, Notification: transition.Notification}
}

func (s *paymentService) finish(ctx context.Context, event GatewayEvent, result ReconcileResult, err error) (ReconcileResult, error) {
	fields := map[string]any{
		"eventId":  event.EventID,
		"intentId": event.IntentID,
		"status":   string(event.Status),
		"outcome":  result.Outcome,
	}
	if result.Order.ID != "" {
		fields["orderId"] = result.Order.ID
		fields["orderStatus"] = string(result.Order.Status)
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["severity"] = "warn"
		// A confirmed charge that cannot be applied needs a human.
		if event.Status == domain.IntentStatusSucceeded && (errors.Is(err, ErrOrderInvalidState) || errors.Is(err, ErrPaymentAmountMismatch)) {
			fields["severity"] = "error"
		}
	}
	s.logger(ctx, eventPaymentReconciled, fields)
	s.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", result.Outcome),
		attribute.String("status", string(event.Status)),
	))
	return result, err
}
