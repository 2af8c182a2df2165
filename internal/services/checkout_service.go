package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
)

const (
	eventCheckoutSubmitted = "checkout.submitted"
	eventCheckoutChanged   = "checkout.cart_changed"
	eventCheckoutReplayed  = "checkout.replayed"
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts     CartService
	Orders    OrderService
	Customers repositories.CustomerRepository
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts     CartService
	orders    OrderService
	customers repositories.CustomerRepository
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		carts:     deps.Carts,
		orders:    deps.Orders,
		customers: deps.Customers,
		logger:    logger,
	}, nil
}

// Submit revalidates the customer's cart at their tier and creates the order. When lines were
// excluded the caller must resubmit with AcceptChanges before anything is reserved.
func (s *checkoutService) Submit(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: customer id is required", ErrCheckoutInvalidInput)
	}
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return CheckoutResult{}, fmt.Errorf("%w: idempotency key is required", ErrCheckoutInvalidInput)
	}

	// The cart is cleared once the order exists, so a retried submit must be resolved by key first.
	if result, found, err := s.resume(ctx, key, &customerID); found || err != nil {
		return result, err
	}

	tier, err := resolveTier(ctx, s.customers, customerID)
	if err != nil {
		return CheckoutResult{}, err
	}
	snapshot, err := s.carts.ToCheckoutSnapshot(ctx, customerID, tier)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := s.checkExclusions(ctx, customerID, snapshot, cmd.AcceptChanges); err != nil {
		return CheckoutResult{}, err
	}

	email := strings.TrimSpace(cmd.Email)
	if email == "" && s.customers != nil {
		if customer, err := s.customers.FindByID(ctx, customerID); err == nil {
			email = customer.Email
		}
	}

	session, err := s.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerID:     &customerID,
		Email:          email,
		IdempotencyKey: key,
		Currency:       cmd.Currency,
		Lines:          snapshot.Lines,
		ClearCart:      true,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	s.logSubmitted(ctx, session, snapshot)
	return CheckoutResult{
		Order:        session.Order,
		ClientSecret: session.ClientSecret,
		Excluded:     snapshot.Excluded,
		Replayed:     session.Replayed,
	}, nil
}

// SubmitGuest prices the supplied lines at list price and creates an order for the given email.
func (s *checkoutService) SubmitGuest(ctx context.Context, cmd GuestCheckoutCommand) (CheckoutResult, error) {
	email := strings.TrimSpace(cmd.Email)
	if email == "" {
		return CheckoutResult{}, fmt.Errorf("%w: email is required", ErrCheckoutInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: invalid email", ErrCheckoutInvalidInput)
	}
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return CheckoutResult{}, fmt.Errorf("%w: idempotency key is required", ErrCheckoutInvalidInput)
	}

	if result, found, err := s.resume(ctx, key, nil); found || err != nil {
		return result, err
	}

	snapshot, err := s.carts.SnapshotFromLines(ctx, cmd.Lines, domain.WholesaleTierNone)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := s.checkExclusions(ctx, "", snapshot, cmd.AcceptChanges); err != nil {
		return CheckoutResult{}, err
	}

	session, err := s.orders.CreateOrder(ctx, CreateOrderCommand{
		Email:          email,
		IdempotencyKey: key,
		Currency:       cmd.Currency,
		Lines:          snapshot.Lines,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	s.logSubmitted(ctx, session, snapshot)
	return CheckoutResult{
		Order:        session.Order,
		ClientSecret: session.ClientSecret,
		Excluded:     snapshot.Excluded,
		Replayed:     session.Replayed,
	}, nil
}

func (s *checkoutService) resume(ctx context.Context, key string, customerID *string) (CheckoutResult, bool, error) {
	session, found, err := s.orders.ResumeByIdempotencyKey(ctx, key, customerID)
	if err != nil || !found {
		return CheckoutResult{}, found, err
	}
	s.logger(ctx, eventCheckoutReplayed, map[string]any{
		"orderId":        session.Order.ID,
		"idempotencyKey": key,
	})
	return CheckoutResult{Order: session.Order, ClientSecret: session.ClientSecret, Replayed: true}, true, nil
}

func (s *checkoutService) checkExclusions(ctx context.Context, customerID string, snapshot CartSnapshot, accept bool) error {
	if len(snapshot.Excluded) > 0 && !accept {
		s.logger(ctx, eventCheckoutChanged, map[string]any{
			"customerId": customerID,
			"excluded":   len(snapshot.Excluded),
		})
		return &CartChangedError{Excluded: snapshot.Excluded}
	}
	if len(snapshot.Lines) == 0 {
		return fmt.Errorf("%w: no purchasable lines remain", ErrCheckoutInvalidInput)
	}
	return nil
}

func (s *checkoutService) logSubmitted(ctx context.Context, session PaymentSession, snapshot CartSnapshot) {
	s.logger(ctx, eventCheckoutSubmitted, map[string]any{
		"orderId":  session.Order.ID,
		"tier":     string(snapshot.Tier),
		"lines":    len(snapshot.Lines),
		"excluded": len(snapshot.Excluded),
		"total":    session.Order.TotalAmount.StringFixed(2),
		"replayed": session.Replayed,
	})
}
