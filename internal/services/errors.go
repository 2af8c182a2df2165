package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
)

var (
	// ErrInsufficientStock is matched by every InsufficientStockError.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryInvalidInput signals a malformed stock request.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryProductNotFound indicates the product has no stock record.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")

	ErrCartInvalidInput    = errors.New("cart: invalid input")
	ErrCartProductNotFound = errors.New("cart: product not found")
	ErrCartProductInactive = errors.New("cart: product inactive")
	ErrCartLineNotFound    = errors.New("cart: line not found")
	// ErrCartChanged is matched by CartChangedError.
	ErrCartChanged = errors.New("cart: contents changed since last review")

	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")

	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed underneath the caller or a duplicate was detected.
	ErrOrderConflict = errors.New("order: conflict")

	// ErrPaymentUnknownIntent rejects gateway events for intents no order references.
	ErrPaymentUnknownIntent = errors.New("payment: unknown payment intent")
	// ErrPaymentAmountMismatch rejects success events whose amount does not cover the order.
	ErrPaymentAmountMismatch = errors.New("payment: amount mismatch")
	ErrPaymentInvalidInput   = errors.New("payment: invalid event")

	ErrRefundInvalidInput = errors.New("refund: invalid input")
	ErrRefundForbidden    = errors.New("refund: admin role required")
	ErrRefundInvalidState = errors.New("refund: order is not refundable")
)

// StockShortage describes one line that could not be reserved.
type StockShortage struct {
	ProductID string
	Requested int
	Available int
}

// InsufficientStockError lists every line that failed during an all-or-nothing reservation.
type InsufficientStockError struct {
	Lines []StockShortage
}

func (e *InsufficientStockError) Error() string {
	if e == nil || len(e.Lines) == 0 {
		return ErrInsufficientStock.Error()
	}
	parts := make([]string, 0, len(e.Lines))
	for _, line := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s requested %d available %d", line.ProductID, line.Requested, line.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock.Error(), strings.Join(parts, "; "))
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidTransitionError reports a rejected order state change.
type InvalidTransitionError struct {
	OrderID string
	From    domain.OrderStatus
	To      domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s cannot move from %s to %s", ErrOrderInvalidState.Error(), e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrOrderInvalidState
}

// GatewayError wraps a failed payment gateway call. OrderID is set when the order already exists,
// so the caller can retry intent creation without reserving stock again.
type GatewayError struct {
	OrderID string
	Op      string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("payment gateway %s for order %s: %v", e.Op, e.OrderID, e.Err)
	}
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// CartChangedError is returned when revalidation excluded cart lines the customer has not yet seen.
type CartChangedError struct {
	Excluded []ExcludedLine
}

func (e *CartChangedError) Error() string {
	return fmt.Sprintf("%s: %d line(s) excluded", ErrCartChanged.Error(), len(e.Excluded))
}

func (e *CartChangedError) Unwrap() error {
	return ErrCartChanged
}

// Kind classifies errors crossing the service boundary.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInsufficientStock Kind = "insufficient_stock"
	KindInvalidTransition Kind = "invalid_transition"
	KindGateway           Kind = "gateway"
	KindNotFound          Kind = "not_found"
	KindCartChanged       Kind = "cart_changed"
	KindConflict          Kind = "conflict"
	KindForbidden         Kind = "forbidden"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

var kindSentinels = []struct {
	kind Kind
	errs []error
}{
	{KindInsufficientStock, []error{ErrInsufficientStock}},
	{KindCartChanged, []error{ErrCartChanged}},
	{KindInvalidTransition, []error{ErrOrderInvalidState, ErrRefundInvalidState}},
	{KindNotFound, []error{ErrOrderNotFound, ErrCartProductNotFound, ErrCartLineNotFound, ErrInventoryProductNotFound, ErrPaymentUnknownIntent}},
	{KindForbidden, []error{ErrRefundForbidden}},
	{KindConflict, []error{ErrOrderConflict}},
	{KindValidation, []error{
		ErrInventoryInvalidInput, ErrCartInvalidInput, ErrCartProductInactive, ErrCheckoutInvalidInput,
		ErrOrderInvalidInput, ErrPaymentAmountMismatch, ErrPaymentInvalidInput, ErrRefundInvalidInput,
	}},
}

// ErrorKind maps err onto the engine's error taxonomy. Nil maps to the empty kind.
func ErrorKind(err error) Kind {
	if err == nil {
		return ""
	}
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return KindGateway
	}
	for _, group := range kindSentinels {
		for _, sentinel := range group.errs {
			if errors.Is(err, sentinel) {
				return group.kind
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return KindNotFound
		case repoErr.IsConflict():
			return KindConflict
		case repoErr.IsUnavailable():
			return KindUnavailable
		}
	}
	return KindInternal
}

func mapRepositoryError(err error, notFound, conflict error, scope string) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict() && conflict != nil:
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%s: repository unavailable: %w", scope, err)
		}
	}
	return err
}
