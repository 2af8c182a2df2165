package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/fixparts/api/internal/domain"
)

// CartRepository stores cart lines keyed by (customer_id, product_id).
type CartRepository struct {
	conn
}

func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{conn: conn{pool: pool}}
}

func (r *CartRepository) List(ctx context.Context, customerID string) ([]domain.CartLine, error) {
	rows, err := r.query(ctx, `
SELECT customer_id, product_id, quantity, created_at, updated_at
FROM cart_lines
WHERE customer_id = $1
ORDER BY created_at, product_id`, customerID)
	if err != nil {
		return nil, wrapError("list cart", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.CustomerID, &line.ProductID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return nil, wrapError("scan cart line", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("list cart", err)
	}
	return lines, nil
}

// Upsert relies on the primary key so concurrent adds of the same product collapse to one line.
func (r *CartRepository) Upsert(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	const stmt = `
INSERT INTO cart_lines (customer_id, product_id, quantity, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (customer_id, product_id)
DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
RETURNING customer_id, product_id, quantity, created_at, updated_at`

	var saved domain.CartLine
	err := r.queryRow(ctx, stmt, line.CustomerID, line.ProductID, line.Quantity, line.UpdatedAt).
		Scan(&saved.CustomerID, &saved.ProductID, &saved.Quantity, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return domain.CartLine{}, wrapError("upsert cart line", err)
	}
	return saved, nil
}

func (r *CartRepository) Delete(ctx context.Context, customerID, productID string) error {
	if _, err := r.exec(ctx, `DELETE FROM cart_lines WHERE customer_id = $1 AND product_id = $2`, customerID, productID); err != nil {
		return wrapError("delete cart line", err)
	}
	return nil
}

func (r *CartRepository) DeleteProducts(ctx context.Context, customerID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	if _, err := r.exec(ctx, `DELETE FROM cart_lines WHERE customer_id = $1 AND product_id = ANY($2)`, customerID, productIDs); err != nil {
		return wrapError("delete cart lines", err)
	}
	return nil
}
