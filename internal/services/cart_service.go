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

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
	errCartInventoryRequired  = errors.New("cart service: inventory service is required")
)

const eventCartSnapshot = "cart.snapshot"

// CartServiceDeps wires the repositories and stock checks for cart operations.
type CartServiceDeps struct {
	Carts     repositories.CartRepository
	Products  repositories.ProductRepository
	Customers repositories.CustomerRepository
	Inventory InventoryService
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type cartService struct {
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	customers repositories.CustomerRepository
	inventory InventoryService
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	if deps.Inventory == nil {
		return nil, errCartInventoryRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		carts:     deps.Carts,
		products:  deps.Products,
		customers: deps.Customers,
		inventory: deps.Inventory,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// AddOrUpdate sets the quantity of a product in the cart. Stock is checked softly here; the
// authoritative decrement happens when the order is created.
func (s *cartService) AddOrUpdate(ctx context.Context, cmd UpsertCartLineCommand) (CartLine, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	productID := strings.TrimSpace(cmd.ProductID)
	if customerID == "" {
		return CartLine{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return CartLine{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if err := validateLineQuantity(cmd.Quantity); err != nil {
		return CartLine{}, err
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return CartLine{}, mapRepositoryError(err, ErrCartProductNotFound, nil, "cart")
	}
	if !product.IsActive {
		return CartLine{}, fmt.Errorf("%w: %s", ErrCartProductInactive, productID)
	}

	availability, err := s.inventory.CheckAvailable(ctx, productID, cmd.Quantity)
	if err != nil {
		return CartLine{}, err
	}
	if !availability.Sufficient {
		return CartLine{}, &InsufficientStockError{Lines: []StockShortage{{
			ProductID: productID,
			Requested: cmd.Quantity,
			Available: availability.Available,
		}}}
	}

	line, err := s.carts.Upsert(ctx, CartLine{
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   cmd.Quantity,
		UpdatedAt:  s.now(),
	})
	if err != nil {
		return CartLine{}, mapRepositoryError(err, ErrCartLineNotFound, nil, "cart")
	}
	return line, nil
}

func (s *cartService) Remove(ctx context.Context, customerID, productID string) error {
	customerID = strings.TrimSpace(customerID)
	productID = strings.TrimSpace(productID)
	if customerID == "" || productID == "" {
		return fmt.Errorf("%w: customer id and product id are required", ErrCartInvalidInput)
	}
	if err := s.carts.Delete(ctx, customerID, productID); err != nil {
		return mapRepositoryError(err, ErrCartLineNotFound, nil, "cart")
	}
	return nil
}

// GetCart prices the cart at the customer's own tier and flags lines that no longer validate.
func (s *cartService) GetCart(ctx context.Context, customerID string) (CartSnapshot, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return CartSnapshot{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	tier, err := resolveTier(ctx, s.customers, customerID)
	if err != nil {
		return CartSnapshot{}, err
	}
	lines, err := s.carts.List(ctx, customerID)
	if err != nil {
		return CartSnapshot{}, mapRepositoryError(err, nil, nil, "cart")
	}
	snapshot, err := s.snapshot(ctx, toLineRequests(lines), tier)
	if err != nil {
		return CartSnapshot{}, err
	}
	snapshot.CustomerID = customerID
	return snapshot, nil
}

// ToCheckoutSnapshot revalidates every cart line against current stock and active status. Lines
// that fail are reported in Excluded rather than dropped silently.
func (s *cartService) ToCheckoutSnapshot(ctx context.Context, customerID string, tier WholesaleTier) (CartSnapshot, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return CartSnapshot{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	lines, err := s.carts.List(ctx, customerID)
	if err != nil {
		return CartSnapshot{}, mapRepositoryError(err, nil, nil, "cart")
	}
	if len(lines) == 0 {
		return CartSnapshot{}, fmt.Errorf("%w: cart is empty", ErrCartInvalidInput)
	}
	snapshot, err := s.snapshot(ctx, toLineRequests(lines), tier)
	if err != nil {
		return CartSnapshot{}, err
	}
	snapshot.CustomerID = customerID
	s.logger(ctx, eventCartSnapshot, map[string]any{
		"customerId": customerID,
		"lines":      len(snapshot.Lines),
		"excluded":   len(snapshot.Excluded),
	})
	return snapshot, nil
}

// SnapshotFromLines validates lines submitted without a stored cart, as for guest checkout.
func (s *cartService) SnapshotFromLines(ctx context.Context, lines []LineRequest, tier WholesaleTier) (CartSnapshot, error) {
	if len(lines) == 0 {
		return CartSnapshot{}, fmt.Errorf("%w: at least one line is required", ErrCartInvalidInput)
	}
	merged := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return CartSnapshot{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
		}
		if err := validateLineQuantity(line.Quantity); err != nil {
			return CartSnapshot{}, err
		}
		if _, seen := merged[productID]; !seen {
			order = append(order, productID)
		}
		merged[productID] += line.Quantity
	}
	requests := make([]LineRequest, 0, len(order))
	for _, productID := range order {
		if err := validateLineQuantity(merged[productID]); err != nil {
			return CartSnapshot{}, err
		}
		requests = append(requests, LineRequest{ProductID: productID, Quantity: merged[productID]})
	}
	return s.snapshot(ctx, requests, tier)
}

func (s *cartService) snapshot(ctx context.Context, lines []LineRequest, tier WholesaleTier) (CartSnapshot, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products := map[string]domain.Product{}
	if len(ids) > 0 {
		found, err := s.products.FindByIDs(ctx, ids)
		if err != nil {
			return CartSnapshot{}, mapRepositoryError(err, nil, nil, "cart")
		}
		products = found
	}

	snapshot := CartSnapshot{Tier: tier}
	for _, line := range lines {
		product, ok := products[line.ProductID]
		switch {
		case !ok:
			snapshot.Excluded = append(snapshot.Excluded, ExcludedLine{ProductID: line.ProductID, Requested: line.Quantity, Reason: ExclusionNotFound})
			continue
		case !product.IsActive:
			snapshot.Excluded = append(snapshot.Excluded, ExcludedLine{ProductID: line.ProductID, Requested: line.Quantity, Reason: ExclusionInactive})
			continue
		case line.Quantity < domain.MinLineQuantity || line.Quantity > domain.MaxLineQuantity:
			snapshot.Excluded = append(snapshot.Excluded, ExcludedLine{ProductID: line.ProductID, Requested: line.Quantity, Reason: ExclusionInvalidQuantity})
			continue
		}

		availability, err := s.inventory.CheckAvailable(ctx, line.ProductID, line.Quantity)
		if err != nil {
			if errors.Is(err, ErrInventoryProductNotFound) {
				snapshot.Excluded = append(snapshot.Excluded, ExcludedLine{ProductID: line.ProductID, Requested: line.Quantity, Reason: ExclusionNotFound})
				continue
			}
			return CartSnapshot{}, err
		}
		if !availability.Sufficient {
			snapshot.Excluded = append(snapshot.Excluded, ExcludedLine{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: availability.Available,
				Reason:    ExclusionInsufficientStock,
			})
			continue
		}
		snapshot.Lines = append(snapshot.Lines, PriceLine(product, line.Quantity, tier))
	}
	snapshot.Totals = SumLines(snapshot.Lines)
	return snapshot, nil
}

// resolveTier looks the customer's tier up once per pricing calculation. Unknown customers price at none.
func resolveTier(ctx context.Context, customers repositories.CustomerRepository, customerID string) (WholesaleTier, error) {
	if customers == nil || customerID == "" {
		return domain.WholesaleTierNone, nil
	}
	customer, err := customers.FindByID(ctx, customerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.WholesaleTierNone, nil
		}
		return "", mapRepositoryError(err, nil, nil, "cart")
	}
	if customer.WholesaleTier == "" {
		return domain.WholesaleTierNone, nil
	}
	return customer.WholesaleTier, nil
}

func validateLineQuantity(quantity int) error {
	if quantity < domain.MinLineQuantity || quantity > domain.MaxLineQuantity {
		return fmt.Errorf("%w: quantity must be between %d and %d", ErrCartInvalidInput, domain.MinLineQuantity, domain.MaxLineQuantity)
	}
	return nil
}

func toLineRequests(lines []CartLine) []LineRequest {
	sorted := append([]CartLine(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	out := make([]LineRequest, 0, len(sorted))
	for _, line := range sorted {
		out = append(out, LineRequest{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return out
}
