package handlers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/payments"
	"github.com/fixparts/api/internal/services"
)

var handlerTestTime = time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)

func sampleOrder(id string, customerID *string) services.Order {
	intent := "pi_" + id
	return services.Order{
		ID:              id,
		OrderNumber:     "FP-2026-000101",
		CustomerID:      customerID,
		Email:           "buyer@shop.example",
		IdempotencyKey:  "key-" + id,
		Status:          domain.OrderStatusCreated,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentIntentID: &intent,
		Currency:        "USD",
		Items: []services.OrderItem{{
			ProductID:       "scr-ip13",
			SKU:             "SCR-IP13-OLED",
			Name:            "iPhone 13 OLED screen",
			Quantity:        2,
			BasePrice:       decimal.RequireFromString("89.99"),
			UnitPrice:       decimal.RequireFromString("89.99"),
			DiscountPercent: 0,
			LineTotal:       decimal.RequireFromString("179.98"),
		}},
		Subtotal:       decimal.RequireFromString("179.98"),
		DiscountTotal:  decimal.Zero,
		TotalAmount:    decimal.RequireFromString("179.98"),
		RefundedAmount: decimal.Zero,
		AdminNotes:     "checked by ops",
		CreatedAt:      handlerTestTime,
		UpdatedAt:      handlerTestTime,
	}
}

func strPtr(v string) *string { return &v }

type stubCartService struct {
	upserts []services.UpsertCartLineCommand
	removed []string
	cart    services.CartSnapshot
	err     error
}

func (s *stubCartService) AddOrUpdate(_ context.Context, cmd services.UpsertCartLineCommand) (services.CartLine, error) {
	if s.err != nil {
		return services.CartLine{}, s.err
	}
	s.upserts = append(s.upserts, cmd)
	return services.CartLine{CustomerID: cmd.CustomerID, ProductID: cmd.ProductID, Quantity: cmd.Quantity}, nil
}

func (s *stubCartService) Remove(_ context.Context, customerID, productID string) error {
	if s.err != nil {
		return s.err
	}
	s.removed = append(s.removed, customerID+"/"+productID)
	return nil
}

func (s *stubCartService) GetCart(_ context.Context, customerID string) (services.CartSnapshot, error) {
	cart := s.cart
	cart.CustomerID = customerID
	return cart, nil
}

func (s *stubCartService) ToCheckoutSnapshot(context.Context, string, services.WholesaleTier) (services.CartSnapshot, error) {
	return s.cart, nil
}

func (s *stubCartService) SnapshotFromLines(context.Context, []services.LineRequest, services.WholesaleTier) (services.CartSnapshot, error) {
	return s.cart, nil
}

type stubCheckoutService struct {
	submits []services.CheckoutCommand
	guests  []services.GuestCheckoutCommand
	result  services.CheckoutResult
	err     error
}

func (s *stubCheckoutService) Submit(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	s.submits = append(s.submits, cmd)
	return s.result, s.err
}

func (s *stubCheckoutService) SubmitGuest(_ context.Context, cmd services.GuestCheckoutCommand) (services.CheckoutResult, error) {
	s.guests = append(s.guests, cmd)
	return s.result, s.err
}

type stubOrderService struct {
	order    services.Order
	getErr   error
	cancels  []services.CancelOrderCommand
	advances []services.AdvanceStatusCommand
	result   services.TransitionResult
	err      error
	sweep    services.SweepResult
}

func (s *stubOrderService) CreateOrder(context.Context, services.CreateOrderCommand) (services.PaymentSession, error) {
	return services.PaymentSession{}, nil
}

func (s *stubOrderService) ResumeByIdempotencyKey(context.Context, string, *string) (services.PaymentSession, bool, error) {
	return services.PaymentSession{}, false, nil
}

func (s *stubOrderService) EnsurePaymentIntent(context.Context, string) (services.PaymentSession, error) {
	return services.PaymentSession{}, nil
}

func (s *stubOrderService) GetOrder(context.Context, string) (services.Order, error) {
	return s.order, s.getErr
}

func (s *stubOrderService) MarkPaid(context.Context, services.MarkPaidCommand) (services.TransitionResult, error) {
	return services.TransitionResult{}, nil
}

func (s *stubOrderService) Cancel(_ context.Context, cmd services.CancelOrderCommand) (services.TransitionResult, error) {
	s.cancels = append(s.cancels, cmd)
	return s.result, s.err
}

func (s *stubOrderService) AdvanceStatus(_ context.Context, cmd services.AdvanceStatusCommand) (services.TransitionResult, error) {
	s.advances = append(s.advances, cmd)
	return s.result, s.err
}

func (s *stubOrderService) SweepExpired(context.Context) (services.SweepResult, error) {
	return s.sweep, nil
}

type stubRefundService struct {
	commands []services.RefundCommand
	result   services.TransitionResult
	err      error
}

func (s *stubRefundService) Refund(_ context.Context, cmd services.RefundCommand) (services.TransitionResult, error) {
	s.commands = append(s.commands, cmd)
	return s.result, s.err
}

type stubPaymentService struct {
	events []services.GatewayEvent
	result services.ReconcileResult
	err    error
}

func (s *stubPaymentService) OnGatewayEvent(_ context.Context, event services.GatewayEvent) (services.ReconcileResult, error) {
	s.events = append(s.events, event)
	return s.result, s.err
}

type stubVerifier struct {
	event     payments.Event
	err       error
	signature string
}

func (s *stubVerifier) Parse(_ []byte, signature string) (payments.Event, error) {
	s.signature = signature
	return s.event, s.err
}

var (
	_ services.CartService     = (*stubCartService)(nil)
	_ services.CheckoutService = (*stubCheckoutService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.RefundService   = (*stubRefundService)(nil)
	_ services.PaymentService  = (*stubPaymentService)(nil)
	_ WebhookVerifier          = (*stubVerifier)(nil)
)
