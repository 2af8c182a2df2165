// Package memory provides mutex-guarded repositories for local development and tests.
// RunInTx does not roll back; callers that need atomicity compensate explicitly.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return e.msg }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...), conflict: true}
}

type cartKey struct {
	customerID string
	productID  string
}

type releaseKey struct {
	orderID   string
	productID string
}

// Store holds all state behind one mutex.
type Store struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	customers map[string]domain.Customer
	carts     map[cartKey]domain.CartLine
	orders    map[string]domain.Order
	releases  map[releaseKey]domain.StockRelease
	counters  map[string]int64
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		customers: make(map[string]domain.Customer),
		carts:     make(map[cartKey]domain.CartLine),
		orders:    make(map[string]domain.Order),
		releases:  make(map[releaseKey]domain.StockRelease),
		counters:  make(map[string]int64),
	}
}

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// PutCustomer seeds or replaces a customer.
func (s *Store) PutCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
}

// Releases returns the recorded stock releases for an order.
func (s *Store) Releases(orderID string) []domain.StockRelease {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StockRelease
	for key, rel := range s.releases {
		if key.orderID == orderID {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }

func (s *Store) Customers() repositories.CustomerRepository { return customerRepo{s} }

func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepo{s} }

func (s *Store) Carts() repositories.CartRepository { return cartRepo{s} }

func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }

func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }

type productRepo struct{ s *Store }

func (r productRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, notFound("product %s not found", productID)
	}
	return product, nil
}

func (r productRepo) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

type customerRepo struct{ s *Store }

func (r customerRepo) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	customer, ok := r.s.customers[customerID]
	if !ok {
		return domain.Customer{}, notFound("customer %s not found", customerID)
	}
	return customer, nil
}

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) Available(_ context.Context, productID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return 0, repositories.ProductNotFound("inventory available", productID)
	}
	return product.TotalStock, nil
}

func (r inventoryRepo) Decrement(_ context.Context, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, repositories.InvalidQuantity("inventory decrement", productID, quantity)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return 0, repositories.ProductNotFound("inventory decrement", productID)
	}
	if product.TotalStock < quantity {
		return 0, repositories.InsufficientStock("inventory decrement", productID, product.TotalStock)
	}
	product.TotalStock -= quantity
	r.s.products[productID] = product
	return product.TotalStock, nil
}

func (r inventoryRepo) Release(_ context.Context, release domain.StockRelease) (bool, error) {
	if release.Quantity <= 0 {
		return false, repositories.InvalidQuantity("inventory release", release.ProductID, release.Quantity)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := releaseKey{orderID: release.OrderID, productID: release.ProductID}
	if _, done := r.s.releases[key]; done {
		return false, nil
	}
	product, ok := r.s.products[release.ProductID]
	if !ok {
		return false, repositories.ProductNotFound("inventory release", release.ProductID)
	}
	product.TotalStock += release.Quantity
	r.s.products[release.ProductID] = product
	r.s.releases[key] = release
	return true, nil
}

func (r inventoryRepo) Restock(_ context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return repositories.ProductNotFound("inventory restock", productID)
	}
	product.TotalStock += quantity
	r.s.products[productID] = product
	return nil
}


type cartRepo struct{ s *Store }

func (r cartRepo) List(_ context.Context, customerID string) ([]domain.CartLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var lines []domain.CartLine
	for key, line := range r.s.carts {
		if key.customerID == customerID {
			lines = append(lines, line)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if !lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].CreatedAt.Before(lines[j].CreatedAt)
		}
		return lines[i].ProductID < lines[j].ProductID
	})
	return lines, nil
}

func (r cartRepo) Upsert(_ context.Context, line domain.CartLine) (domain.CartLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := cartKey{customerID: line.CustomerID, productID: line.ProductID}
	if existing, ok := r.s.carts[key]; ok {
		line.CreatedAt = existing.CreatedAt
	} else {
		line.CreatedAt = line.UpdatedAt
	}
	r.s.carts[key] = line
	return line, nil
}

func (r cartRepo) Delete(_ context.Context, customerID, productID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.carts, cartKey{customerID: customerID, productID: productID})
	return nil
}

func (r cartRepo) DeleteProducts(_ context.Context, customerID string, productIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range productIDs {
		delete(r.s.carts, cartKey{customerID: customerID, productID: id})
	}
	return nil
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[order.ID]; ok {
		return conflict("order %s already exists", order.ID)
	}
	for _, existing := range r.s.orders {
		if existing.IdempotencyKey == order.IdempotencyKey {
			return conflict("idempotency key %s already used", order.IdempotencyKey)
		}
		if existing.OrderNumber == order.OrderNumber {
			return conflict("order number %s already used", order.OrderNumber)
		}
	}
	order.Version = 1
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) Update(_ context.Context, order domain.Order, guard repositories.OrderGuard) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.orders[order.ID]
	if !ok {
		return notFound("order %s not found", order.ID)
	}
	if current.Version != guard.Version {
		return conflict("order %s is at version %d, not %d", order.ID, current.Version, guard.Version)
	}
	if order.PaymentIntentID != nil {
		for id, other := range r.s.orders {
			if id != order.ID && other.PaymentIntentID != nil && *other.PaymentIntentID == *order.PaymentIntentID {
				return conflict("payment intent %s already linked", *order.PaymentIntentID)
			}
		}
	}
	order.Items = current.Items
	order.Version = current.Version + 1
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.ID == orderID }, "order %s not found", orderID)
}

func (r orderRepo) FindByPaymentIntentID(_ context.Context, intentID string) (domain.Order, error) {
	return r.find(func(o domain.Order) bool {
		return o.PaymentIntentID != nil && *o.PaymentIntentID == intentID
	}, "order for intent %s not found", intentID)
}

func (r orderRepo) FindByIdempotencyKey(_ context.Context, key string) (domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.IdempotencyKey == key }, "order for key %s not found", key)
}

func (r orderRepo) ListStale(_ context.Context, query repositories.StaleOrderQuery) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, order := range r.s.orders {
		if order.Status == domain.OrderStatusCreated && order.CreatedAt.Before(query.CreatedBefore) {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (r orderRepo) find(match func(domain.Order) bool, format string, arg string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, order := range r.s.orders {
		if match(order) {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, notFound(format, arg)
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(_ context.Context, counterID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.counters[counterID]++
	return r.s.counters[counterID], nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	order.CustomerID = clonePtr(order.CustomerID)
	order.PaymentIntentID = clonePtr(order.PaymentIntentID)
	order.CancelReason = clonePtr(order.CancelReason)
	order.PaidAt = clonePtr(order.PaidAt)
	order.ProcessingAt = clonePtr(order.ProcessingAt)
	order.ShippedAt = clonePtr(order.ShippedAt)
	order.DeliveredAt = clonePtr(order.DeliveredAt)
	order.CancelledAt = clonePtr(order.CancelledAt)
	order.RefundedAt = clonePtr(order.RefundedAt)
	return order
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// Stock returns the current stock of a product, or -1 when unknown.
func (s *Store) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return -1
	}
	return product.TotalStock
}
