package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart quantity bounds enforced per line.
const (
	MinLineQuantity = 1
	MaxLineQuantity = 100
)

// Product is a sellable part. The inventory ledger only ever mutates TotalStock.
type Product struct {
	ID         string
	SKU        string
	Name       string
	BasePrice  decimal.Decimal
	TotalStock int
	IsActive   bool
	UpdatedAt  time.Time
}

// Customer carries the attributes the engine reads for pricing.
type Customer struct {
	ID            string
	Email         string
	WholesaleTier WholesaleTier
}

// CartLine is a single (customer, product) entry in a customer-private cart.
type CartLine struct {
	CustomerID string
	ProductID  string
	Quantity   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Order is the durable record created once at checkout. Orders are never deleted.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      *string
	Email           string
	IdempotencyKey  string
	Items           []OrderItem
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentIntentID *string
	Currency        string
	Subtotal        decimal.Decimal
	DiscountTotal   decimal.Decimal
	TotalAmount     decimal.Decimal
	RefundedAmount  decimal.Decimal
	AdminNotes      string
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ProcessingAt    *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time

	// Version increases by one on every stored update and guards against lost updates.
	Version int64
}

// OrderItem snapshots the price of a line at order time.
type OrderItem struct {
	ProductID       string
	SKU             string
	Name            string
	Quantity        int
	BasePrice       decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent int64
	LineTotal       decimal.Decimal
}

// StockRelease records that an order's quantity of a product was returned to stock.
type StockRelease struct {
	OrderID    string
	ProductID  string
	Quantity   int
	ReleasedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
