package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/repositories"
)

const orderColumns = `id, order_number, customer_id, email, idempotency_key, status, payment_status,
payment_intent_id, currency, subtotal, discount_total, total_amount, refunded_amount, admin_notes,
cancel_reason, created_at, updated_at, paid_at, processing_at, shipped_at, delivered_at, cancelled_at, refunded_at, version`

// OrderRepository persists orders and their immutable item snapshots.
type OrderRepository struct {
	conn
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{conn: conn{pool: pool}}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		_, err := r.exec(txCtx, `
INSERT INTO orders (`+orderColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, 1)`,
			order.ID, order.OrderNumber, order.CustomerID, order.Email, order.IdempotencyKey,
			string(order.Status), string(order.PaymentStatus), order.PaymentIntentID, order.Currency,
			order.Subtotal, order.DiscountTotal, order.TotalAmount, order.RefundedAmount, order.AdminNotes,
			order.CancelReason, order.CreatedAt, order.UpdatedAt, order.PaidAt, order.ProcessingAt,
			order.ShippedAt, order.DeliveredAt, order.CancelledAt, order.RefundedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return conflictError("insert order", err)
			}
			return wrapError("insert order", err)
		}

		batch := &pgx.Batch{}
		for i, item := range order.Items {
			batch.Queue(`
INSERT INTO order_items (order_id, position, product_id, sku, name, quantity, base_price, unit_price, discount_percent, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				order.ID, i, item.ProductID, item.SKU, item.Name, item.Quantity,
				item.BasePrice, item.UnitPrice, item.DiscountPercent, item.LineTotal,
			)
		}
		results := txFromContext(txCtx).SendBatch(txCtx, batch)
		for range order.Items {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return wrapError("insert order item", err)
			}
		}
		return wrapError("insert order items", results.Close())
	})
}

// Update writes the mutable order fields only while the stored version still matches guard, and
// bumps the version.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, guard repositories.OrderGuard) error {
	const stmt = `
UPDATE orders SET
	status = $2, payment_status = $3, payment_intent_id = $4, refunded_amount = $5, admin_notes = $6,
	cancel_reason = $7, updated_at = $8, paid_at = $9, processing_at = $10, shipped_at = $11,
	delivered_at = $12, cancelled_at = $13, refunded_at = $14, version = version + 1
WHERE id = $1 AND version = $15`

	tag, err := r.exec(ctx, stmt,
		order.ID, string(order.Status), string(order.PaymentStatus), order.PaymentIntentID,
		order.RefundedAmount, order.AdminNotes, order.CancelReason, order.UpdatedAt, order.PaidAt,
		order.ProcessingAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt, order.RefundedAt,
		guard.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return conflictError("update order", err)
		}
		return wrapError("update order", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return wrapError("update order", err)
	}
	if !exists {
		return notFoundError("update order", fmt.Errorf("order %s not found", order.ID))
	}
	return conflictError("update order", fmt.Errorf("order %s changed since version %d (%s/%s)", order.ID, guard.Version, guard.Status, guard.PaymentStatus))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "find order", `WHERE id = $1`, orderID)
}

func (r *OrderRepository) FindByPaymentIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	return r.findOne(ctx, "find order by intent", `WHERE payment_intent_id = $1`, intentID)
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	return r.findOne(ctx, "find order by idempotency key", `WHERE idempotency_key = $1`, key)
}

func (r *OrderRepository) ListStale(ctx context.Context, query repositories.StaleOrderQuery) ([]domain.Order, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE status = 'created' AND created_at < $1
ORDER BY created_at
LIMIT $2`, query.CreatedBefore, limit)
	if err != nil {
		return nil, wrapError("list stale orders", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, wrapError("list stale orders", err)
	}
	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *OrderRepository) findOne(ctx context.Context, op, where string, arg any) (domain.Order, error) {
	order, err := scanOrder(r.queryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, notFoundError(op, err)
		}
		return domain.Order{}, wrapError(op, err)
	}
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.query(ctx, `
SELECT product_id, sku, name, quantity, base_price, unit_price, discount_percent, line_total
FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, wrapError("load order items", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Name, &item.Quantity, &item.BasePrice,
			&item.UnitPrice, &item.DiscountPercent, &item.LineTotal); err != nil {
			return nil, wrapError("scan order item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("load order items", err)
	}
	return items, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o             domain.Order
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.Email, &o.IdempotencyKey, &status, &paymentStatus,
		&o.PaymentIntentID, &o.Currency, &o.Subtotal, &o.DiscountTotal, &o.TotalAmount, &o.RefundedAmount,
		&o.AdminNotes, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.ProcessingAt,
		&o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.RefundedAt, &o.Version,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status, err = domain.ParseOrderStatus(status); err != nil {
		return domain.Order{}, err
	}
	if o.PaymentStatus, err = domain.ParsePaymentStatus(paymentStatus); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}
