package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/payments"
	"github.com/fixparts/api/internal/platform/textutil"
	"github.com/fixparts/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventIntentCreated = "order.intent.created"
	orderEventIntentFailed  = "order.intent.failed"
	orderEventSweep         = "order.sweep"

	orderIDPrefix       = "ord_"
	orderNumberCounter  = "order_number"
	systemActor         = "system"
	instrumentationName = "github.com/fixparts/api/internal/services"

	// DefaultReservationTTL is how long a CREATED order may hold stock without a confirmed payment.
	DefaultReservationTTL = 15 * time.Minute
	// DefaultSweepBatchSize bounds the number of stale orders handled per sweep.
	DefaultSweepBatchSize = 100
)

// DefaultAmountTolerance is the largest difference accepted between a confirmed payment and the order total.
var DefaultAmountTolerance = decimal.New(1, -2)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusCreated:    {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
}

var adminAdvanceTargets = []OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Carts           repositories.CartRepository
	Counters        repositories.CounterRepository
	Inventory       InventoryService
	Gateway         PaymentGateway
	Notifier        OrderNotifier
	UnitOfWork      repositories.UnitOfWork
	DefaultCurrency string
	ReservationTTL  time.Duration
	SweepBatchSize  int
	AmountTolerance decimal.Decimal
	Meter           metric.Meter
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	counters   repositories.CounterRepository
	inventory  InventoryService
	gateway    PaymentGateway
	unitOfWork repositories.UnitOfWork
	currency   string
	ttl        time.Duration
	batch      int
	tolerance  decimal.Decimal
	swept      metric.Int64Counter
	clock      func() time.Time
	newID      func() string
	notify     notifyFunc
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	currency := domain.DefaultCurrency
	if strings.TrimSpace(deps.DefaultCurrency) != "" {
		normalized, err := domain.NormalizeCurrency(deps.DefaultCurrency)
		if err != nil {
			return nil, fmt.Errorf("order service: %w", err)
		}
		currency = normalized
	}

	ttl := deps.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	batch := deps.SweepBatchSize
	if batch <= 0 {
		batch = DefaultSweepBatchSize
	}
	tolerance := deps.AmountTolerance
	if !tolerance.IsPositive() {
		tolerance = DefaultAmountTolerance
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	swept, err := meter.Int64Counter(
		"fixparts.orders.swept",
		metric.WithDescription("Stale reservations handled by the sweeper, by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("order service: create sweep counter: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utc := func() time.Time { return clock().UTC() }

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		counters:   deps.Counters,
		inventory:  deps.Inventory,
		gateway:    deps.Gateway,
		unitOfWork: unit,
		currency:   currency,
		ttl:        ttl,
		batch:      batch,
		tolerance:  tolerance,
		swept:      swept,
		clock:      utc,
		newID:      idGen,
		notify:     newNotify(deps.Notifier, utc, logger),
		logger:     logger,
	}, nil
}

// CreateOrder reserves stock for every line and inserts the order in one transaction, then asks the
// gateway for a payment intent keyed by the order id. A gateway failure leaves the order CREATED
// with its stock reserved; retrying with the same idempotency key only retries the intent.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (PaymentSession, error) {
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return PaymentSession{}, fmt.Errorf("%w: idempotency key is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return PaymentSession{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	customerID := optionalString(derefString(cmd.CustomerID))
	email := strings.TrimSpace(cmd.Email)
	if customerID == nil && email == "" {
		return PaymentSession{}, fmt.Errorf("%w: guest orders require an email", ErrOrderInvalidInput)
	}
	currency := s.currency
	if strings.TrimSpace(cmd.Currency) != "" {
		requested, err := domain.NormalizeCurrency(cmd.Currency)
		if err != nil {
			return PaymentSession{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		if requested != currency {
			return PaymentSession{}, fmt.Errorf("%w: currency %s is not accepted, prices are in %s", ErrOrderInvalidInput, requested, currency)
		}
	}

	stock := make([]StockLine, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		if line.Quantity < domain.MinLineQuantity || line.Quantity > domain.MaxLineQuantity {
			return PaymentSession{}, fmt.Errorf("%w: quantity for %s out of range", ErrOrderInvalidInput, line.ProductID)
		}
		stock = append(stock, StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	totals := SumLines(cmd.Lines)
	if !totals.Total.IsPositive() {
		return PaymentSession{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	if existing, found, err := s.findByIdempotencyKey(ctx, key); err != nil {
		return PaymentSession{}, err
	} else if found {
		return s.replay(ctx, existing, customerID)
	}

	now := s.now()
	order := Order{
		ID:             s.nextOrderID(),
		CustomerID:     customerID,
		Email:          email,
		IdempotencyKey: key,
		Items:          orderItemsFromLines(cmd.Lines),
		Status:         domain.OrderStatusCreated,
		PaymentStatus:  domain.PaymentStatusPending,
		Currency:       currency,
		Subtotal:       totals.Subtotal,
		DiscountTotal:  totals.Discount,
		TotalAmount:    totals.Total,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.inventory.ReserveLines(txCtx, stock); err != nil {
			return err
		}
		if err := s.persistNewOrder(txCtx, &order, cmd.ClearCart); err != nil {
			if undoErr := s.inventory.Unreserve(txCtx, stock); undoErr != nil {
				s.logger(txCtx, orderEventCreated, map[string]any{
					"severity": "warn",
					"orderId":  order.ID,
					"error":    undoErr.Error(),
					"stage":    "unreserve",
				})
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderConflict) {
			// A concurrent request with the same key won the insert.
			if existing, found, findErr := s.findByIdempotencyKey(ctx, key); findErr == nil && found {
				return s.replay(ctx, existing, customerID)
			}
		}
		return PaymentSession{}, err
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.TotalAmount.StringFixed(2),
		"lines":       len(order.Items),
	})

	return s.attachIntent(ctx, order)
}

func (s *orderService) persistNewOrder(ctx context.Context, order *Order, clearCart bool) error {
	number, err := s.nextOrderNumber(ctx, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("order: allocate order number: %w", err)
	}
	order.OrderNumber = number
	if err := s.orders.Insert(ctx, *order); err != nil {
		return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "order")
	}
	order.Version = 1
	if clearCart && order.CustomerID != nil && s.carts != nil {
		productIDs := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			productIDs = append(productIDs, item.ProductID)
		}
		if err := s.carts.DeleteProducts(ctx, *order.CustomerID, productIDs); err != nil {
			return mapRepositoryError(err, nil, ErrOrderConflict, "order")
		}
	}
	return nil
}

// ResumeByIdempotencyKey returns the session of an order already created with key. The boolean is
// false when no such order exists.
func (s *orderService) ResumeByIdempotencyKey(ctx context.Context, key string, customerID *string) (PaymentSession, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return PaymentSession{}, false, fmt.Errorf("%w: idempotency key is required", ErrOrderInvalidInput)
	}
	existing, found, err := s.findByIdempotencyKey(ctx, key)
	if err != nil || !found {
		return PaymentSession{}, false, err
	}
	session, err := s.replay(ctx, existing, optionalString(derefString(customerID)))
	if err != nil {
		return PaymentSession{}, true, err
	}
	return session, true, nil
}

func (s *orderService) replay(ctx context.Context, existing Order, customerID *string) (PaymentSession, error) {
	if derefString(existing.CustomerID) != derefString(customerID) {
		return PaymentSession{}, fmt.Errorf("%w: idempotency key belongs to another order", ErrOrderConflict)
	}
	session, err := s.ensureIntent(ctx, existing)
	if err != nil {
		return PaymentSession{}, err
	}
	session.Replayed = true
	return session, nil
}

// EnsurePaymentIntent makes sure a CREATED order has a gateway intent, creating one if an earlier
// attempt failed. Orders past CREATED are returned as they are.
func (s *orderService) EnsurePaymentIntent(ctx context.Context, orderID string) (PaymentSession, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentSession{}, err
	}
	return s.ensureIntent(ctx, order)
}

func (s *orderService) ensureIntent(ctx context.Context, order Order) (PaymentSession, error) {
	if order.Status != domain.OrderStatusCreated {
		return PaymentSession{Order: order}, nil
	}
	if order.PaymentIntentID == nil {
		return s.attachIntent(ctx, order)
	}
	intent, err := s.gateway.RetrieveIntent(ctx, payments.LookupRequest{
		IntentID: *order.PaymentIntentID,
		Currency: order.Currency,
	})
	if err != nil {
		return PaymentSession{}, &GatewayError{OrderID: order.ID, Op: "retrieve_intent", Err: err}
	}
	return PaymentSession{Order: order, ClientSecret: intent.ClientSecret}, nil
}

func (s *orderService) attachIntent(ctx context.Context, order Order) (PaymentSession, error) {
	customerID := derefString(order.CustomerID)
	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         domain.ToMinorUnits(order.TotalAmount, order.Currency),
		Currency:       order.Currency,
		ReceiptEmail:   order.Email,
		IdempotencyKey: order.ID,
		Metadata: textutil.NormalizeMetadata(map[string]string{
			"order_number": order.OrderNumber,
			"customer_id":  customerID,
		}),
	})
	if err != nil {
		s.logger(ctx, orderEventIntentFailed, map[string]any{
			"severity": "warn",
			"orderId":  order.ID,
			"error":    err.Error(),
		})
		return PaymentSession{}, &GatewayError{OrderID: order.ID, Op: "create_intent", Err: err}
	}

	guard := repositories.GuardFor(order)
	order.PaymentIntentID = &intent.ID
	order.UpdatedAt = s.now()
	if err := saveOrder(ctx, s.orders, &order, guard); err != nil {
		mapped := mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "order")
		if !errors.Is(mapped, ErrOrderConflict) {
			return PaymentSession{}, mapped
		}
		current, findErr := s.GetOrder(ctx, order.ID)
		if findErr != nil {
			return PaymentSession{}, findErr
		}
		if current.PaymentIntentID == nil || *current.PaymentIntentID != intent.ID {
			return PaymentSession{}, mapped
		}
		order = current
	}

	s.logger(ctx, orderEventIntentCreated, map[string]any{
		"orderId":       order.ID,
		"paymentIntent": intent.ID,
	})
	return PaymentSession{Order: order, ClientSecret: intent.ClientSecret}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "order")
	}
	return order, nil
}

// MarkPaid records a gateway-confirmed payment. A second confirmation for an order that is already
// paid reports AlreadyApplied instead of failing.
func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (TransitionResult, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return TransitionResult{}, err
	}
	if cmd.IntentID != "" && (order.PaymentIntentID == nil || *order.PaymentIntentID != cmd.IntentID) {
		return TransitionResult{}, fmt.Errorf("%w: intent %s is not linked to order %s", ErrOrderConflict, cmd.IntentID, order.ID)
	}
	if order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusRefunded {
		return TransitionResult{Order: order, PreviousStatus: order.Status, AlreadyApplied: true}, nil
	}
	if !canTransition(order.Status, domain.OrderStatusPaid) {
		return TransitionResult{}, &InvalidTransitionError{OrderID: order.ID, From: order.Status, To: domain.OrderStatusPaid}
	}
	if cmd.Currency != "" && !strings.EqualFold(cmd.Currency, order.Currency) {
		return TransitionResult{}, fmt.Errorf("%w: received %s, order %s is in %s", ErrPaymentAmountMismatch, strings.ToUpper(cmd.Currency), order.ID, order.Currency)
	}
	if cmd.Amount.Sub(order.TotalAmount).Abs().GreaterThan(s.tolerance) {
		return TransitionResult{}, fmt.Errorf("%w: received %s, order %s totals %s", ErrPaymentAmountMismatch, cmd.Amount.StringFixed(2), order.ID, order.TotalAmount.StringFixed(2))
	}

	now := s.now()
	previous := order.Status
	guard := repositories.GuardFor(order)
	order.Status = domain.OrderStatusPaid
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now
	if err := saveOrder(ctx, s.orders, &order, guard); err != nil {
		return TransitionResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "order")
	}

	return TransitionResult{
		Order:          order,
		PreviousStatus: previous,
		Notification:   s.notify(ctx, OrderEventPaid, order, previous),
	}, nil
}

// Cancel moves an order to CANCELLED and releases its stock in the same transaction. Cancelling an
// already cancelled order only re-runs the idempotent release.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (TransitionResult, error) {
	cause := cmd.Cause
	if cause == "" {
		cause = CancelCauseRequested
	}
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return TransitionResult{}, err
	}

	if order.Status == domain.OrderStatusCancelled {
		if _, err := s.inventory.ReleaseOrder(ctx, order); err != nil {
			return TransitionResult{}, err
		}
		return TransitionResult{Order: order, PreviousStatus: order.Status, AlreadyApplied: true}, nil
	}
	if !canTransition(order.Status, domain.OrderStatusCancelled) {
		return TransitionResult{}, &InvalidTransitionError{OrderID: order.ID, From: order.Status, To: domain.OrderStatusCancelled}
	}
	if cause != CancelCauseRequested && order.Status != domain.OrderStatusCreated {
		return TransitionResult{}, &InvalidTransitionError{OrderID: order.ID, From: order.Status, To: domain.OrderStatusCancelled}
	}

	now := s.now()
	previous := order.Status
	guard := repositories.GuardFor(order)
	reason := textutil.SanitizeNote(cmd.Reason)
	if reason == "" {
		reason = string(cause)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		actor = systemActor
	}
	order.Status = domain.OrderStatusCancelled
	if cause == CancelCausePaymentFailed {
		order.PaymentStatus = domain.PaymentStatusFailed
	}
	order.CancelReason = &reason
	order.CancelledAt = &now
	order.UpdatedAt = now
	order.AdminNotes = textutil.AppendNote(order.AdminNotes, fmt.Sprintf("%s cancelled by %s (%s): %s", now.Format(time.RFC3339), actor, cause, reason))

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := saveOrder(txCtx, s.orders, &order, guard); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "order")
		}
		_, err := s.inventory.ReleaseOrder(txCtx, order)
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}

	return TransitionResult{
		Order:          order,
		PreviousStatus: previous,
		Notification:   s.notify(ctx, OrderEventCancelled, order, previous),
	}, nil
}

// AdvanceStatus applies an admin fulfilment update.
func (s *orderService) AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (TransitionResult, error) {
	if !slices.Contains(adminAdvanceTargets, cmd.TargetStatus) {
		return TransitionResult{}, fmt.Errorf("%w: status %q cannot be set directly", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !canTransition(order.Status, cmd.TargetStatus) {
		return TransitionResult{}, &InvalidTransitionError{OrderID: order.ID, From: order.Status, To: cmd.TargetStatus}
	}

	now := s.now()
	previous := order.Status
	guard := repositories.GuardFor(order)
	order.Status = cmd.TargetStatus
	order.UpdatedAt = now
	var event string
	switch cmd.TargetStatus {
	case domain.OrderStatusProcessing:
		order.ProcessingAt = &now
		event = OrderEventProcessing
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
		event = OrderEventShipped
	case domain.OrderStatusDelivered:
		if order.ShippedAt == nil {
			order.ShippedAt = &now
		}
		order.DeliveredAt = &now
		event = OrderEventDelivered
	}

	if err := saveOrder(ctx, s.orders, &order, guard); err != nil {
		return TransitionResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "order")
	}
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": order.ID,
		"from":    string(previous),
		"to":      string(order.Status),
		"actor":   strings.TrimSpace(cmd.ActorID),
	})

	return TransitionResult{
		Order:          order,
		PreviousStatus: previous,
		Notification:   s.notify(ctx, event, order, previous),
	}, nil
}

// SweepExpired cancels CREATED orders older than the reservation TTL and releases their stock.
// Orders whose intent already succeeded at the gateway are marked paid instead.
func (s *orderService) SweepExpired(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().Add(-s.ttl)
	stale, err := s.orders.ListStale(ctx, repositories.StaleOrderQuery{CreatedBefore: cutoff, Limit: s.batch})
	if err != nil {
		return SweepResult{}, mapRepositoryError(err, nil, nil, "order")
	}

	var result SweepResult
	for _, order := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		outcome := s.sweepOne(ctx, order)
		switch outcome {
		case "cancelled":
			result.Cancelled++
		case "paid":
			result.Paid++
		default:
			result.Skipped++
		}
		s.swept.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if result.Scanned > 0 {
		s.logger(ctx, orderEventSweep, map[string]any{
			"scanned":   result.Scanned,
			"cancelled": result.Cancelled,
			"paid":      result.Paid,
			"skipped":   result.Skipped,
		})
	}
	return result, nil
}

func (s *orderService) sweepOne(ctx context.Context, order Order) string {
	if order.PaymentIntentID != nil {
		intent, err := s.gateway.RetrieveIntent(ctx, payments.LookupRequest{
			IntentID: *order.PaymentIntentID,
			Currency: order.Currency,
		})
		if err != nil {
			s.sweepFailed(ctx, order, "retrieve_intent", "warn", err)
			return "skipped"
		}
		if intent.Status == domain.IntentStatusRequiresPayment {
			intent, err = s.cancelIntent(ctx, order, intent)
			if err != nil {
				s.sweepFailed(ctx, order, "cancel_intent", "warn", err)
				return "skipped"
			}
		}
		switch intent.Status {
		case domain.IntentStatusSucceeded:
			_, err := s.MarkPaid(ctx, MarkPaidCommand{
				OrderID:  order.ID,
				IntentID: intent.ID,
				Amount:   domain.FromMinorUnits(intent.Amount, intent.Currency),
				Currency: intent.Currency,
			})
			if err != nil {
				s.sweepFailed(ctx, order, "mark_paid", "error", err)
				return "skipped"
			}
			return "paid"
		case domain.IntentStatusFailed, domain.IntentStatusRefunded:
			// Nothing is owed; the order is released below.
		default:
			// Still settling at the gateway; the stock stays held until it resolves.
			s.logger(ctx, orderEventSweep, map[string]any{
				"orderId":      order.ID,
				"intentStatus": string(intent.Status),
				"stage":        "in_flight",
			})
			return "skipped"
		}
	}

	if _, err := s.Cancel(ctx, CancelOrderCommand{
		OrderID: order.ID,
		Cause:   CancelCauseExpired,
		Reason:  "payment not completed within reservation window",
		ActorID: systemActor,
	}); err != nil {
		s.sweepFailed(ctx, order, "cancel", "warn", err)
		return "skipped"
	}
	return "cancelled"
}

// cancelIntent cancels an unpaid intent at the gateway before its order is released. When the
// gateway refuses, the intent is read again since it may have moved on in the meantime.
func (s *orderService) cancelIntent(ctx context.Context, order Order, intent payments.Intent) (payments.Intent, error) {
	cancelled, err := s.gateway.CancelIntent(ctx, payments.CancelRequest{
		IntentID: intent.ID,
		Currency: order.Currency,
		Reason:   "abandoned",
	})
	if err == nil {
		return cancelled, nil
	}
	current, retrieveErr := s.gateway.RetrieveIntent(ctx, payments.LookupRequest{IntentID: intent.ID, Currency: order.Currency})
	if retrieveErr != nil || current.Status == domain.IntentStatusRequiresPayment {
		return payments.Intent{}, err
	}
	return current, nil
}

func (s *orderService) sweepFailed(ctx context.Context, order Order, stage, severity string, err error) {
	s.logger(ctx, orderEventSweep, map[string]any{
		"severity": severity,
		"orderId":  order.ID,
		"error":    err.Error(),
		"stage":    stage,
	})
}

func (s *orderService) findByIdempotencyKey(ctx context.Context, key string) (Order, bool, error) {
	order, err := s.orders.FindByIdempotencyKey(ctx, key)
	if err == nil {
		return order, true, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return Order{}, false, nil
	}
	return Order{}, false, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "order")
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("FP-%04d-%06d", now.Year(), seq), nil
}

// saveOrder stores order only if nobody changed it since guard was read, then advances its version.
func saveOrder(ctx context.Context, repo repositories.OrderRepository, order *Order, guard repositories.OrderGuard) error {
	if err := repo.Update(ctx, *order, guard); err != nil {
		return err
	}
	order.Version = guard.Version + 1
	return nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + strings.ToLower(s.newID())
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func canTransition(current, target OrderStatus) bool {
	if current.Terminal() {
		return false
	}
	return slices.Contains(orderStateTransitions[current], target)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
