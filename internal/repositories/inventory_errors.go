package repositories

import (
	"errors"
	"fmt"
)

// InventoryErrorCode classifies a refused stock operation.
type InventoryErrorCode string

const (
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	InventoryErrorProductNotFound   InventoryErrorCode = "inventory_product_not_found"
	InventoryErrorInvalidQuantity   InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError is returned by InventoryRepository implementations. For insufficient stock,
// Available is the stock observed when the conditional decrement matched nothing.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Available int
	Message   string
}

func (e *InventoryError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

// InsufficientStock reports a decrement refused with available units left.
func InsufficientStock(op, productID string, available int) *InventoryError {
	return &InventoryError{
		Op:        op,
		Code:      InventoryErrorInsufficientStock,
		ProductID: productID,
		Available: available,
		Message:   fmt.Sprintf("product %s has %d available", productID, available),
	}
}

// ProductNotFound reports a stock operation on a product without a stock record.
func ProductNotFound(op, productID string) *InventoryError {
	return &InventoryError{
		Op:        op,
		Code:      InventoryErrorProductNotFound,
		ProductID: productID,
		Message:   fmt.Sprintf("product %s not found", productID),
	}
}

// InvalidQuantity reports a non-positive quantity reaching the store.
func InvalidQuantity(op, productID string, quantity int) *InventoryError {
	return &InventoryError{
		Op:        op,
		Code:      InventoryErrorInvalidQuantity,
		ProductID: productID,
		Message:   fmt.Sprintf("quantity %d must be positive", quantity),
	}
}

// AsInventoryError extracts an *InventoryError with the given code from err's chain.
func AsInventoryError(err error, code InventoryErrorCode) (*InventoryError, bool) {
	var invErr *InventoryError
	if errors.As(err, &invErr) && invErr.Code == code {
		return invErr, true
	}
	return nil, false
}
