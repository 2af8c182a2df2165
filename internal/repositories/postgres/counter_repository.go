package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

var counterIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// CounterRepository maps counter ids onto Postgres sequences named <id>_seq.
type CounterRepository struct {
	conn
}

func NewCounterRepository(pool *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{conn: conn{pool: pool}}
}

func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	if !counterIDPattern.MatchString(counterID) {
		return 0, fmt.Errorf("counter: invalid id %q", counterID)
	}
	var value int64
	if err := r.queryRow(ctx, `SELECT nextval($1::regclass)`, counterID+"_seq").Scan(&value); err != nil {
		return 0, wrapError("next counter", err)
	}
	return value, nil
}
