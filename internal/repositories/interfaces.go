package repositories

import (
	"context"
	"time"

	domain "github.com/fixparts/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Customers() CustomerRepository
	Inventory() InventoryRepository
	Carts() CartRepository
	Orders() OrderRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Nested calls join the outer transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog entries needed for pricing and validation.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs returns the products that exist, keyed by id. Missing ids are simply absent.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// CustomerRepository resolves customer attributes such as the wholesale tier.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
}

// InventoryRepository is the authoritative stock counter per product.
type InventoryRepository interface {
	// Available returns the current stock for the product.
	Available(ctx context.Context, productID string) (int, error)
	// Decrement subtracts quantity only when enough stock remains. A shortfall returns an
	// InventoryError with code InventoryErrorInsufficientStock and the observed availability.
	Decrement(ctx context.Context, productID string, quantity int) (int, error)
	// Release adds the quantity back once per (order, product). The boolean is false when the
	// release had already been recorded.
	Release(ctx context.Context, release domain.StockRelease) (bool, error)
	// Restock adds quantity back without consulting the release ledger.
	Restock(ctx context.Context, productID string, quantity int) error
}

// CartRepository persists customer cart lines keyed by (customer, product).
type CartRepository interface {
	List(ctx context.Context, customerID string) ([]domain.CartLine, error)
	Upsert(ctx context.Context, line domain.CartLine) (domain.CartLine, error)
	Delete(ctx context.Context, customerID, productID string) error
	DeleteProducts(ctx context.Context, customerID string, productIDs []string) error
}

// OrderGuard is the state an order must still be in for an update to apply. Version alone
// decides; the status pair only sharpens the conflict message.
type OrderGuard struct {
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	Version       int64
}

// GuardFor captures the guard for an order as it was read.
func GuardFor(order domain.Order) OrderGuard {
	return OrderGuard{Status: order.Status, PaymentStatus: order.PaymentStatus, Version: order.Version}
}

// StaleOrderQuery selects CREATED orders older than a cutoff.
type StaleOrderQuery struct {
	CreatedBefore time.Time
	Limit         int
}

// OrderRepository persists orders. Insert stores version 1. Update must fail with a conflict when
// the stored version no longer matches the guard, and stores guard.Version+1 otherwise.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, guard OrderGuard) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error)
	ListStale(ctx context.Context, query StaleOrderQuery) ([]domain.Order, error)
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
