package services

import (
	"context"
	"time"
)

// Order lifecycle notification types.
const (
	OrderEventPaid          = "order.paid"
	OrderEventProcessing    = "order.processing"
	OrderEventShipped       = "order.shipped"
	OrderEventDelivered     = "order.delivered"
	OrderEventCancelled     = "order.cancelled"
	OrderEventRefunded      = "order.refunded"
	OrderEventPartialRefund = "order.refund.partial"
)

type notifyFunc func(ctx context.Context, eventType string, order Order, previous OrderStatus) NotificationOutcome

// newNotify builds the fire-and-forget notification step shared by services that transition orders.
// A failed notification is logged and reported, never returned as an error.
func newNotify(notifier OrderNotifier, clock func() time.Time, logger func(context.Context, string, map[string]any)) notifyFunc {
	return func(ctx context.Context, eventType string, order Order, previous OrderStatus) NotificationOutcome {
		if notifier == nil {
			return NotificationOutcome{Event: eventType}
		}
		event := OrderEvent{
			Type:           eventType,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			Email:          order.Email,
			PreviousStatus: previous,
			CurrentStatus:  order.Status,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
			OccurredAt:     clock(),
		}
		if order.CustomerID != nil {
			event.CustomerID = *order.CustomerID
		}
		err := notifier.NotifyOrder(ctx, event)
		if err != nil {
			logger(ctx, "order.notify.failed", map[string]any{
				"severity": "warn",
				"orderId":  order.ID,
				"event":    eventType,
				"error":    err.Error(),
			})
		}
		return NotificationOutcome{Attempted: true, Event: eventType, Err: err}
	}
}
