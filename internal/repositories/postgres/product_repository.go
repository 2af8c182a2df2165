package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/fixparts/api/internal/domain"
)

const productColumns = `id, sku, name, base_price, total_stock, is_active, updated_at`

// ProductRepository reads catalog rows.
type ProductRepository struct {
	conn
}

func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{conn: conn{pool: pool}}
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	row := r.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	product, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, wrapError("find product", err)
	}
	return product, nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	rows, err := r.query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, wrapError("list products", err)
	}
	defer rows.Close()
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, wrapError("scan product", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("list products", err)
	}
	return result, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.BasePrice, &p.TotalStock, &p.IsActive, &p.UpdatedAt)
	return p, err
}

// CustomerRepository reads customer pricing attributes.
type CustomerRepository struct {
	conn
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{conn: conn{pool: pool}}
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	var (
		c    domain.Customer
		tier string
	)
	err := r.queryRow(ctx, `SELECT id, email, wholesale_tier FROM customers WHERE id = $1`, customerID).
		Scan(&c.ID, &c.Email, &tier)
	if err != nil {
		return domain.Customer{}, wrapError("find customer", err)
	}
	parsed, err := domain.ParseWholesaleTier(tier)
	if err != nil {
		return domain.Customer{}, wrapError("find customer", err)
	}
	c.WholesaleTier = parsed
	return c, nil
}
