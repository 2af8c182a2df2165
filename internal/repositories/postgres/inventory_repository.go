package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
)

// InventoryRepository keeps products.total_stock authoritative. The conditional UPDATE is
// the only concurrency primitive: Postgres row locking serialises competing decrements.
type InventoryRepository struct {
	conn
}

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{conn: conn{pool: pool}}
}

func (r *InventoryRepository) Available(ctx context.Context, productID string) (int, error) {
	var stock int
	err := r.queryRow(ctx, `SELECT total_stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repositories.ProductNotFound("inventory available", productID)
		}
		return 0, wrapError("inventory available", err)
	}
	return stock, nil
}

func (r *InventoryRepository) Decrement(ctx context.Context, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, repositories.InvalidQuantity("inventory decrement", productID, quantity)
	}

	const stmt = `
UPDATE products
SET total_stock = total_stock - $2, updated_at = NOW()
WHERE id = $1 AND total_stock >= $2
RETURNING total_stock`

	var remaining int
	err := r.queryRow(ctx, stmt, productID, quantity).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapError("inventory decrement", err)
	}

	available, availErr := r.Available(ctx, productID)
	if availErr != nil {
		return 0, availErr
	}
	return 0, repositories.InsufficientStock("inventory decrement", productID, available)
}

func (r *InventoryRepository) Release(ctx context.Context, release domain.StockRelease) (bool, error) {
	if release.Quantity <= 0 {
		return false, repositories.InvalidQuantity("inventory release", release.ProductID, release.Quantity)
	}

	var released bool
	err := withTx(ctx, r.pool, func(txCtx context.Context) error {
		tag, err := r.exec(txCtx, `
INSERT INTO stock_releases (order_id, product_id, quantity, released_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (order_id, product_id) DO NOTHING`,
			release.OrderID, release.ProductID, release.Quantity, release.ReleasedAt)
		if err != nil {
			return wrapError("record stock release", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := r.restock(txCtx, "inventory release", release.ProductID, release.Quantity); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

func (r *InventoryRepository) Restock(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return nil
	}
	return r.restock(ctx, "inventory restock", productID, quantity)
}

func (r *InventoryRepository) restock(ctx context.Context, op, productID string, quantity int) error {
	tag, err := r.exec(ctx, `UPDATE products SET total_stock = total_stock + $2, updated_at = NOW() WHERE id = $1`, productID, quantity)
	if err != nil {
		return wrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.ProductNotFound(op, productID)
	}
	return nil
}

