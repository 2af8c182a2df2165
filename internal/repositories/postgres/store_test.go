package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
	"github.com/fixparts/api/internal/repositories/postgres"
	"github.com/fixparts/api/internal/testutil"
)

func newStore(t *testing.T) (*postgres.Store, context.Context) {
	t.Helper()
	pool := testutil.NewTestPool(t)
	store, err := postgres.NewStore(pool)
	require.NoError(t, err)
	return store, context.Background()
}

func TestInventoryDecrementNeverOversells(t *testing.T) {
	store, ctx := newStore(t)
	testutil.InsertProduct(t, ctx, store.Pool(), "screen-x", "89.90", 5, true)

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Inventory().Decrement(ctx, "screen-x", 1)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			var invErr *repositories.InventoryError
			if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, successes)
	require.Equal(t, 0, testutil.StockOf(t, ctx, store.Pool(), "screen-x"))
}

func TestInventoryDecrementReportsAvailability(t *testing.T) {
	store, ctx := newStore(t)
	testutil.InsertProduct(t, ctx, store.Pool(), "battery", "19.00", 2, true)

	_, err := store.Inventory().Decrement(ctx, "battery", 3)
	var invErr *repositories.InventoryError
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, repositories.InventoryErrorInsufficientStock, invErr.Code)
	require.Equal(t, 2, invErr.Available)

	_, err = store.Inventory().Decrement(ctx, "missing", 1)
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, repositories.InventoryErrorProductNotFound, invErr.Code)
}

func TestInventoryReleaseIsIdempotentPerOrder(t *testing.T) {
	store, ctx := newStore(t)
	testutil.InsertProduct(t, ctx, store.Pool(), "camera", "45.00", 10, true)

	remaining, err := store.Inventory().Decrement(ctx, "camera", 4)
	require.NoError(t, err)
	require.Equal(t, 6, remaining)

	release := domain.StockRelease{OrderID: "ord_1", ProductID: "camera", Quantity: 4, ReleasedAt: time.Now().UTC()}
	released, err := store.Inventory().Release(ctx, release)
	require.NoError(t, err)
	require.True(t, released)

	released, err = store.Inventory().Release(ctx, release)
	require.NoError(t, err)
	require.False(t, released)
	require.Equal(t, 10, testutil.StockOf(t, ctx, store.Pool(), "camera"))
}

func TestRunInTxRollsBackDecrement(t *testing.T) {
	store, ctx := newStore(t)
	testutil.InsertProduct(t, ctx, store.Pool(), "flex", "5.00", 3, true)

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := store.Inventory().Decrement(txCtx, "flex", 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, testutil.StockOf(t, ctx, store.Pool(), "flex"))
}

func TestCartUpsertCollapsesLines(t *testing.T) {
	store, ctx := newStore(t)
	testutil.InsertProduct(t, ctx, store.Pool(), "glass", "3.50", 40, true)
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	_, err := store.Carts().Upsert(ctx, domain.CartLine{CustomerID: "cus_1", ProductID: "glass", Quantity: 2, UpdatedAt: now})
	require.NoError(t, err)
	saved, err := store.Carts().Upsert(ctx, domain.CartLine{CustomerID: "cus_1", ProductID: "glass", Quantity: 7, UpdatedAt: now.Add(time.Minute)})
	require.NoError(t, err)
	require.Equal(t, 7, saved.Quantity)
	require.True(t, saved.CreatedAt.Equal(now))

	lines, err := store.Carts().List(ctx, "cus_1")
	require.NoError(t, err)
	require.Len(t, lines, 1)

	require.NoError(t, store.Carts().DeleteProducts(ctx, "cus_1", []string{"glass"}))
	lines, err = store.Carts().List(ctx, "cus_1")
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestOrderInsertFindAndGuardedUpdate(t *testing.T) {
	store, ctx := newStore(t)
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	customer := "cus_1"
	order := domain.Order{
		ID:             "ord_1",
		OrderNumber:    "FP-2025-000001",
		CustomerID:     &customer,
		Email:          "buyer@example.com",
		IdempotencyKey: "key-1",
		Status:         domain.OrderStatusCreated,
		PaymentStatus:  domain.PaymentStatusPending,
		Currency:       "USD",
		Subtotal:       decimal.RequireFromString("300.00"),
		DiscountTotal:  decimal.RequireFromString("51.00"),
		TotalAmount:    decimal.RequireFromString("249.00"),
		RefundedAmount: decimal.Zero,
		Items: []domain.OrderItem{{
			ProductID: "screen-x", SKU: "SKU-screen-x", Name: "Screen", Quantity: 3,
			BasePrice: decimal.RequireFromString("100.00"), UnitPrice: decimal.RequireFromString("83.00"),
			DiscountPercent: 17, LineTotal: decimal.RequireFromString("249.00"),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Orders().Insert(ctx, order))

	dup := order
	dup.ID = "ord_2"
	dup.OrderNumber = "FP-2025-000002"
	err := store.Orders().Insert(ctx, dup)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	require.True(t, repoErr.IsConflict())

	found, err := store.Orders().FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, "ord_1", found.ID)
	require.Len(t, found.Items, 1)
	require.True(t, found.TotalAmount.Equal(decimal.RequireFromString("249.00")))

	require.EqualValues(t, 1, found.Version)

	intent := "pi_123"
	linked := found
	linked.PaymentIntentID = &intent
	require.NoError(t, store.Orders().Update(ctx, linked, repositories.GuardFor(found)))

	// Same status pair, stale version.
	paid := found
	paid.Status = domain.OrderStatusPaid
	paid.PaymentStatus = domain.PaymentStatusPaid
	err = store.Orders().Update(ctx, paid, repositories.GuardFor(found))
	require.ErrorAs(t, err, &repoErr)
	require.True(t, repoErr.IsConflict())

	current, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	require.EqualValues(t, 2, current.Version)
	paid = current
	paid.Status = domain.OrderStatusPaid
	paid.PaymentStatus = domain.PaymentStatusPaid
	require.NoError(t, store.Orders().Update(ctx, paid, repositories.GuardFor(current)))

	byIntent, err := store.Orders().FindByPaymentIntentID(ctx, intent)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, byIntent.Status)
	require.EqualValues(t, 3, byIntent.Version)

	_, err = store.Orders().FindByID(ctx, "ord_missing")
	require.ErrorAs(t, err, &repoErr)
	require.True(t, repoErr.IsNotFound())
}

func TestListStaleReturnsOnlyCreatedOrders(t *testing.T) {
	store, ctx := newStore(t)
	old := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, status := range []domain.OrderStatus{domain.OrderStatusCreated, domain.OrderStatusPaid} {
		id := []string{"ord_a", "ord_b"}[i]
		require.NoError(t, store.Orders().Insert(ctx, domain.Order{
			ID: id, OrderNumber: "FP-" + id, Email: "guest@example.com", IdempotencyKey: id,
			Status: status, PaymentStatus: domain.PaymentStatusPending, Currency: "USD",
			Subtotal: decimal.Zero, DiscountTotal: decimal.Zero, TotalAmount: decimal.Zero, RefundedAmount: decimal.Zero,
			CreatedAt: old, UpdatedAt: old,
		}))
	}

	stale, err := store.Orders().ListStale(ctx, repositories.StaleOrderQuery{CreatedBefore: old.Add(time.Hour), Limit: 10})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "ord_a", stale[0].ID)
}

func TestCounterNextIncrements(t *testing.T) {
	store, ctx := newStore(t)
	first, err := store.Counters().Next(ctx, "order_number")
	require.NoError(t, err)
	second, err := store.Counters().Next(ctx, "order_number")
	require.NoError(t, err)
	require.Equal(t, first+1, second)

	_, err = store.Counters().Next(ctx, "orders; DROP TABLE orders")
	require.Error(t, err)
}

func TestCustomerTierLookup(t *testing.T) {
	store, ctx := newStore(t)
	testutil.InsertCustomer(t, ctx, store.Pool(), "cus_w", "shop@example.com", "tier3")

	customer, err := store.Customers().FindByID(ctx, "cus_w")
	require.NoError(t, err)
	require.Equal(t, domain.WholesaleTierThree, customer.WholesaleTier)
}
