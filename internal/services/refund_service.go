package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/payments"
	"github.com/fixparts/api/internal/platform/textutil"
	"github.com/fixparts/api/internal/repositories"
)

const (
	eventOrderRefunded = "order.refund.issued"

	maxRefundRecordAttempts = 3
)

var refundableStatuses = []OrderStatus{
	domain.OrderStatusPaid,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
}

// RefundServiceDeps wires the refund service.
type RefundServiceDeps struct {
	Orders   repositories.OrderRepository
	Gateway  PaymentGateway
	Notifier OrderNotifier
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type refundService struct {
	orders  repositories.OrderRepository
	gateway PaymentGateway
	clock   func() time.Time
	notify  notifyFunc
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewRefundService constructs a RefundService.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("refund service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &refundService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		clock:   utc,
		notify:  newNotify(deps.Notifier, utc, logger),
		logger:  logger,
	}, nil
}

// Refund returns money through the gateway and only then records it on the order. Partial refunds
// accumulate; the order becomes REFUNDED once the refunded amount reaches the total.
func (s *refundService) Refund(ctx context.Context, cmd RefundCommand) (TransitionResult, error) {
	if cmd.Actor.Role != domain.RoleAdmin {
		return TransitionResult{}, ErrRefundForbidden
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return TransitionResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "refund")
	}
	if order.PaymentStatus != domain.PaymentStatusPaid || !slices.Contains(refundableStatuses, order.Status) {
		return TransitionResult{}, fmt.Errorf("%w: order %s is %s with payment %s", ErrRefundInvalidState, order.ID, order.Status, order.PaymentStatus)
	}
	if order.PaymentIntentID == nil {
		return TransitionResult{}, fmt.Errorf("%w: order %s has no payment intent", ErrRefundInvalidState, order.ID)
	}

	remaining := order.TotalAmount.Sub(order.RefundedAmount)
	amount := remaining
	if cmd.Amount != nil {
		amount = *cmd.Amount
		if !amount.IsPositive() || !amount.Equal(domain.RoundMoney(amount)) {
			return TransitionResult{}, fmt.Errorf("%w: amount must be a positive value in cents", ErrRefundInvalidInput)
		}
		if amount.GreaterThan(remaining) {
			return TransitionResult{}, fmt.Errorf("%w: amount %s exceeds refundable balance %s", ErrRefundInvalidInput, amount.StringFixed(2), remaining.StringFixed(2))
		}
	}
	if !amount.IsPositive() {
		return TransitionResult{}, fmt.Errorf("%w: nothing left to refund", ErrRefundInvalidState)
	}

	reason := textutil.SanitizeNote(cmd.Reason)
	minor := domain.ToMinorUnits(amount, order.Currency)
	refund, err := s.gateway.Refund(ctx, payments.RefundRequest{
		IntentID:       *order.PaymentIntentID,
		Amount:         &minor,
		Currency:       order.Currency,
		Reason:         reason,
		IdempotencyKey: refundIdempotencyKey(order.ID, order.RefundedAmount),
		Metadata: textutil.NormalizeMetadata(map[string]string{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"actor_id":     cmd.Actor.ID,
		}),
	})
	if err != nil {
		s.logger(ctx, eventOrderRefunded, map[string]any{
			"severity": "warn",
			"orderId":  order.ID,
			"amount":   amount.StringFixed(2),
			"error":    err.Error(),
		})
		return TransitionResult{}, &GatewayError{OrderID: order.ID, Op: "refund", Err: err}
	}

	now := s.clock()
	note := fmt.Sprintf("%s refunded %s %s by %s (%s)", now.Format(time.RFC3339), amount.StringFixed(2), order.Currency, cmd.Actor.ID, refund.ID)
	if reason != "" {
		note += ": " + reason
	}

	// On a conflicting write the order is re-read and the refund recorded on top of whatever landed
	// first. A refund id already present in the notes was recorded by a concurrent request.
	var (
		previous OrderStatus
		event    string
		full     bool
	)
	for attempt := 1; ; attempt++ {
		if strings.Contains(order.AdminNotes, "("+refund.ID+")") {
			return TransitionResult{Order: order, PreviousStatus: order.Status, AlreadyApplied: true}, nil
		}
		previous = order.Status
		next := order
		event, full = applyRefund(&next, amount, now, note)
		err := saveOrder(ctx, s.orders, &next, repositories.GuardFor(order))
		if err == nil {
			order = next
			break
		}
		err = mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "refund")
		if errors.Is(err, ErrOrderConflict) && attempt < maxRefundRecordAttempts {
			current, findErr := s.orders.FindByID(ctx, order.ID)
			if findErr == nil && !current.TotalAmount.Sub(current.RefundedAmount).LessThan(amount) {
				order = current
				continue
			}
		}
		s.logger(ctx, eventOrderRefunded, map[string]any{
			"severity": "error",
			"orderId":  order.ID,
			"refundId": refund.ID,
			"amount":   amount.StringFixed(2),
			"error":    err.Error(),
			"stage":    "record",
			"attempts": attempt,
		})
		return TransitionResult{}, err
	}

	s.logger(ctx, eventOrderRefunded, map[string]any{
		"orderId":  order.ID,
		"refundId": refund.ID,
		"amount":   amount.StringFixed(2),
		"refunded": order.RefundedAmount.StringFixed(2),
		"full":     full,
		"actor":    cmd.Actor.ID,
	})
	return TransitionResult{
		Order:          order,
		PreviousStatus: previous,
		Notification:   s.notify(ctx, event, order, previous),
	}, nil
}

// applyRefund adds amount to order and returns the lifecycle event it produces and whether the
// order is now fully refunded.
func applyRefund(order *Order, amount decimal.Decimal, now time.Time, note string) (string, bool) {
	order.RefundedAmount = order.RefundedAmount.Add(amount)
	order.UpdatedAt = now
	order.AdminNotes = textutil.AppendNote(order.AdminNotes, note)
	if order.RefundedAmount.LessThan(order.TotalAmount) {
		return OrderEventPartialRefund, false
	}
	order.PaymentStatus = domain.PaymentStatusRefunded
	order.RefundedAt = &now
	if order.Status != domain.OrderStatusCancelled {
		order.Status = domain.OrderStatusRefunded
	}
	return OrderEventRefunded, true
}

// refundIdempotencyKey is stable for a retry of the same refund step and changes once it is recorded.
func refundIdempotencyKey(orderID string, refunded decimal.Decimal) string {
	return orderID + ":refund:" + refunded.StringFixed(2)
}
