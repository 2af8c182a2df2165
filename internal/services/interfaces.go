package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	OrderStatus   = domain.OrderStatus
	PricedLine    = domain.PricedLine
	OrderTotals   = domain.OrderTotals
	UnitPricing   = domain.UnitPricing
	WholesaleTier = domain.WholesaleTier
	CartLine      = domain.CartLine

	SystemHealthReport = domain.SystemHealthReport
)

// InventoryService is the only path through which stock is decremented or returned.
type InventoryService interface {
	CheckAvailable(ctx context.Context, productID string, quantity int) (StockAvailability, error)
	ReserveAndCommit(ctx context.Context, productID string, quantity int) error
	ReserveLines(ctx context.Context, lines []StockLine) error
	Unreserve(ctx context.Context, lines []StockLine) error
	Release(ctx context.Context, orderID, productID string, quantity int) (bool, error)
	ReleaseOrder(ctx context.Context, order Order) (int, error)
}

// CartService manages per-customer cart lines and produces validated checkout snapshots.
type CartService interface {
	AddOrUpdate(ctx context.Context, cmd UpsertCartLineCommand) (CartLine, error)
	Remove(ctx context.Context, customerID, productID string) error
	GetCart(ctx context.Context, customerID string) (CartSnapshot, error)
	ToCheckoutSnapshot(ctx context.Context, customerID string, tier WholesaleTier) (CartSnapshot, error)
	SnapshotFromLines(ctx context.Context, lines []LineRequest, tier WholesaleTier) (CartSnapshot, error)
}

// CheckoutService turns a cart (or a guest line list) into an order with a payment intent.
type CheckoutService interface {
	Submit(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	SubmitGuest(ctx context.Context, cmd GuestCheckoutCommand) (CheckoutResult, error)
}

// OrderService owns every order lifecycle transition.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (PaymentSession, error)
	ResumeByIdempotencyKey(ctx context.Context, key string, customerID *string) (PaymentSession, bool, error)
	EnsurePaymentIntent(ctx context.Context, orderID string) (PaymentSession, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (TransitionResult, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (TransitionResult, error)
	AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (TransitionResult, error)
	SweepExpired(ctx context.Context) (SweepResult, error)
}

// PaymentService reconciles asynchronous gateway notifications with order state.
type PaymentService interface {
	OnGatewayEvent(ctx context.Context, event GatewayEvent) (ReconcileResult, error)
}

// RefundService issues admin refunds through the gateway before touching the order.
type RefundService interface {
	Refund(ctx context.Context, cmd RefundCommand) (TransitionResult, error)
}

// SystemService reports dependency health for the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PaymentGateway is the subset of the payments manager the engine depends on.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	RetrieveIntent(ctx context.Context, req payments.LookupRequest) (payments.Intent, error)
	CancelIntent(ctx context.Context, req payments.CancelRequest) (payments.Intent, error)
	Refund(ctx context.Context, req payments.RefundRequest) (payments.Refund, error)
}

// OrderNotifier delivers lifecycle events to customers. Failures never roll back a transition.
type OrderNotifier interface {
	NotifyOrder(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	CustomerID     string
	Email          string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	Amount         decimal.Decimal
	Currency       string
	OccurredAt     time.Time
}

// NotificationOutcome reports whether the notifier was invoked for a transition and how it fared.
type NotificationOutcome struct {
	Attempted bool
	Event     string
	Err       error
}

// Delivered reports a successful notification attempt.
func (n NotificationOutcome) Delivered() bool {
	return n.Attempted && n.Err == nil
}

// TransitionResult is returned by every order mutation.
type TransitionResult struct {
	Order          Order
	PreviousStatus OrderStatus
	AlreadyApplied bool
	Notification   NotificationOutcome
}

type StockAvailability struct {
	ProductID  string
	Requested  int
	Available  int
	Sufficient bool
}

type StockLine struct {
	ProductID string
	Quantity  int
}

type UpsertCartLineCommand struct {
	CustomerID string
	ProductID  string
	Quantity   int
}

type LineRequest struct {
	ProductID string
	Quantity  int
}

// Reasons a cart line is excluded from a snapshot.
const (
	ExclusionInsufficientStock = "insufficient_stock"
	ExclusionInactive          = "inactive"
	ExclusionNotFound          = "not_found"
	ExclusionInvalidQuantity   = "invalid_quantity"
)

// ExcludedLine reports a line that failed revalidation and was left out of a snapshot.
type ExcludedLine struct {
	ProductID string
	Requested int
	Available int
	Reason    string
}

// CartSnapshot is a priced, revalidated view of a cart.
type CartSnapshot struct {
	CustomerID string
	Tier       WholesaleTier
	Lines      []PricedLine
	Excluded   []ExcludedLine
	Totals     OrderTotals
}

type CheckoutCommand struct {
	CustomerID     string
	Email          string
	IdempotencyKey string
	Currency       string
	AcceptChanges  bool
}

type GuestCheckoutCommand struct {
	Email          string
	IdempotencyKey string
	Currency       string
	Lines          []LineRequest
	AcceptChanges  bool
}

type CheckoutResult struct {
	Order        Order
	ClientSecret string
	Excluded     []ExcludedLine
	Replayed     bool
}

type CreateOrderCommand struct {
	CustomerID     *string
	Email          string
	IdempotencyKey string
	// Currency may only restate the catalog currency; any other code is rejected.
	Currency string
	Lines    []PricedLine
	// ClearCart removes the ordered products from the customer's cart in the same transaction.
	ClearCart bool
}

// PaymentSession pairs an order with the client secret the storefront needs to confirm payment.
type PaymentSession struct {
	Order        Order
	ClientSecret string
	Replayed     bool
}

type MarkPaidCommand struct {
	OrderID  string
	IntentID string
	Amount   decimal.Decimal
	// Currency is the gateway-reported currency of Amount. Empty skips the currency check.
	Currency string
}

// CancelCause distinguishes why an order is being cancelled.
type CancelCause string

const (
	CancelCauseRequested     CancelCause = "requested"
	CancelCausePaymentFailed CancelCause = "payment_failed"
	CancelCauseExpired       CancelCause = "reservation_expired"
)

type CancelOrderCommand struct {
	OrderID string
	Cause   CancelCause
	Reason  string
	ActorID string
}

type AdvanceStatusCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
}

// SweepResult summarises one reservation sweep pass.
type SweepResult struct {
	Scanned   int
	Cancelled int
	Paid      int
	Skipped   int
}

// GatewayEvent is a verified gateway notification for one payment intent.
type GatewayEvent struct {
	EventID  string
	IntentID string
	Status   domain.IntentStatus
	Amount   decimal.Decimal
	Currency string
}

// Reconciliation outcomes.
const (
	ReconcileApplied   = "applied"
	ReconcileDuplicate = "duplicate"
	ReconcileIgnored   = "ignored"
	ReconcileRejected  = "rejected"
)

type ReconcileResult struct {
	Outcome      string
	Order        Order
	Notification NotificationOutcome
}

// Actor identifies the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role domain.Role
}

type RefundCommand struct {
	OrderID string
	// Amount is nil for a full refund of the remaining balance.
	Amount *decimal.Decimal
	Reason string
	Actor  Actor
}
