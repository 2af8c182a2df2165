// Package postgres implements the repositories on PostgreSQL through pgx. The transaction
// for a unit of work travels on the context, so repositories called inside RunInTx share it.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixparts/api/internal/repositories"
)

// PoolConfig controls connection pool construction.
type PoolConfig struct {
	URL      string
	MaxConns int32
}

// OpenPool parses the DSN, builds the pool and verifies connectivity.
func OpenPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Store bundles every Postgres repository over one pool.
type Store struct {
	pool      *pgxpool.Pool
	products  *ProductRepository
	customers *CustomerRepository
	inventory *InventoryRepository
	carts     *CartRepository
	orders    *OrderRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore wires repositories over the supplied pool.
func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	return &Store{
		pool:      pool,
		products:  NewProductRepository(pool),
		customers: NewCustomerRepository(pool),
		inventory: NewInventoryRepository(pool),
		carts:     NewCartRepository(pool),
		orders:    NewOrderRepository(pool),
		counters:  NewCounterRepository(pool),
	}, nil
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// Pool exposes the underlying pool for collaborators sharing the database.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies the database is reachable, used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.pool, fn)
}

func (s *Store) Products() repositories.ProductRepository { return s.products }

func (s *Store) Customers() repositories.CustomerRepository { return s.customers }

func (s *Store) Inventory() repositories.InventoryRepository { return s.inventory }

func (s *Store) Carts() repositories.CartRepository { return s.carts }

func (s *Store) Orders() repositories.OrderRepository { return s.orders }

func (s *Store) Counters() repositories.CounterRepository { return s.counters }
