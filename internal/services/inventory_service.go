package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
)

const (
	eventInventoryReserve    = "inventory.reserve"
	eventInventoryCompensate = "inventory.compensate"
	eventInventoryRelease    = "inventory.release"
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CheckAvailable is advisory only: stock can change before the order reserves it.
func (s *inventoryService) CheckAvailable(ctx context.Context, productID string, quantity int) (StockAvailability, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockAvailability{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return StockAvailability{}, fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}

	available, err := s.repo.Available(ctx, productID)
	if err != nil {
		return StockAvailability{}, s.mapInventoryError(err)
	}
	return StockAvailability{
		ProductID:  productID,
		Requested:  quantity,
		Available:  available,
		Sufficient: available >= quantity,
	}, nil
}

func (s *inventoryService) ReserveAndCommit(ctx context.Context, productID string, quantity int) error {
	return s.ReserveLines(ctx, []StockLine{{ProductID: productID, Quantity: quantity}})
}

// ReserveLines decrements every line or none. Lines are processed in product order so concurrent
// multi-line reservations lock rows consistently. Every shortage is collected before returning so
// the caller can report all of them.
func (s *inventoryService) ReserveLines(ctx context.Context, lines []StockLine) error {
	normalized, err := normalizeStockLines(lines)
	if err != nil {
		return err
	}

	committed := make([]StockLine, 0, len(normalized))
	var shortages []StockShortage
	for _, line := range normalized {
		_, err := s.repo.Decrement(ctx, line.ProductID, line.Quantity)
		if err == nil {
			committed = append(committed, line)
			continue
		}
		if invErr, ok := repositories.AsInventoryError(err, repositories.InventoryErrorInsufficientStock); ok {
			shortages = append(shortages, StockShortage{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: invErr.Available,
			})
			continue
		}
		s.compensate(ctx, committed)
		return s.mapInventoryError(err)
	}

	if len(shortages) > 0 {
		s.compensate(ctx, committed)
		s.logger(ctx, eventInventoryReserve, map[string]any{
			"outcome":   "insufficient_stock",
			"shortages": len(shortages),
		})
		return &InsufficientStockError{Lines: shortages}
	}

	s.logger(ctx, eventInventoryReserve, map[string]any{
		"outcome": "committed",
		"lines":   len(committed),
	})
	return nil
}

// Unreserve returns stock taken by ReserveLines for an attempt that did not produce an order.
func (s *inventoryService) Unreserve(ctx context.Context, lines []StockLine) error {
	normalized, err := normalizeStockLines(lines)
	if err != nil {
		return err
	}
	for _, line := range normalized {
		if err := s.repo.Restock(ctx, line.ProductID, line.Quantity); err != nil {
			return s.mapInventoryError(err)
		}
	}
	s.logger(ctx, eventInventoryCompensate, map[string]any{
		"lines": len(normalized),
	})
	return nil
}

// Release returns quantity to stock once per (order, product).
func (s *inventoryService) Release(ctx context.Context, orderID, productID string, quantity int) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	productID = strings.TrimSpace(productID)
	if orderID == "" || productID == "" {
		return false, fmt.Errorf("%w: order id and product id are required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return false, fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}

	applied, err := s.repo.Release(ctx, domain.StockRelease{
		OrderID:    orderID,
		ProductID:  productID,
		Quantity:   quantity,
		ReleasedAt: s.clock(),
	})
	if err != nil {
		return false, s.mapInventoryError(err)
	}
	s.logger(ctx, eventInventoryRelease, map[string]any{
		"orderId":   orderID,
		"productId": productID,
		"quantity":  quantity,
		"applied":   applied,
	})
	return applied, nil
}

// ReleaseOrder releases every item of the order and reports how many products were returned to
// stock by this call. Repeated calls release nothing.
func (s *inventoryService) ReleaseOrder(ctx context.Context, order Order) (int, error) {
	lines := make([]StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	normalized, err := normalizeStockLines(lines)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, line := range normalized {
		applied, err := s.Release(ctx, order.ID, line.ProductID, line.Quantity)
		if err != nil {
			return released, err
		}
		if applied {
			released++
		}
	}
	return released, nil
}

func (s *inventoryService) compensate(ctx context.Context, committed []StockLine) {
	for _, line := range committed {
		if err := s.repo.Restock(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger(ctx, eventInventoryCompensate, map[string]any{
				"productId": line.ProductID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *inventoryService) mapInventoryError(err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryProductNotFound, invErr.ProductID)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{Lines: []StockShortage{{ProductID: invErr.ProductID, Available: invErr.Available}}}
		}
	}
	return mapRepositoryError(err, ErrInventoryProductNotFound, nil, "inventory")
}

// normalizeStockLines merges duplicate products and sorts by product id.
func normalizeStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	merged := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}
		merged[productID] += line.Quantity
	}
	result := make([]StockLine, 0, len(merged))
	for productID, quantity := range merged {
		result = append(result, StockLine{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ProductID < result[j].ProductID
	})
	return result, nil
}
