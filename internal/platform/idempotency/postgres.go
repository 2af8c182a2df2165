package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in the idempotency_keys table so replays survive restarts and
// are shared across instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("idempotency: postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Reserve inserts a pending row, taking over an expired one or a pending row for the same request
// whose lease lapsed. Otherwise the live row is returned for the caller to replay or reject.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)

	const claim = `
INSERT INTO idempotency_keys (scope_key, request_hash, status, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $4, $5)
ON CONFLICT (scope_key) DO UPDATE
SET request_hash = EXCLUDED.request_hash,
    status = EXCLUDED.status,
    response_status = 0,
    response_headers = NULL,
    response_body = NULL,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= $4
   OR (idempotency_keys.status = $3
       AND idempotency_keys.request_hash = EXCLUDED.request_hash
       AND idempotency_keys.updated_at <= $6)
RETURNING created_at`

	var createdAt time.Time
	err := s.pool.QueryRow(ctx, claim, id, fingerprint, string(StatusPending), now, now.Add(ttl), now.Add(-PendingLease)).Scan(&createdAt)
	switch {
	case err == nil:
		return Reservation{State: ReservationStateNew, Record: Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   createdAt,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	record.Key = key
	return record.outcome(fingerprint)
}

func (s *PostgresStore) load(ctx context.Context, id string) (Record, error) {
	const query = `
SELECT request_hash, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
FROM idempotency_keys
WHERE scope_key = $1`

	var (
		record  Record
		status  string
		headers []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&record.Fingerprint, &status, &record.ResponseStatus, &headers, &record.ResponseBody,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("idempotency: load record: %w", err)
	}
	record.Status = Status(status)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	return record, nil
}

// SaveResponse completes the reservation held for fingerprint.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var headers []byte
	if filtered := keepHeaders(resp.Headers); filtered != nil {
		encoded, err := json.Marshal(filtered)
		if err != nil {
			return fmt.Errorf("idempotency: encode headers: %w", err)
		}
		headers = encoded
	}
	var body []byte
	if len(resp.Body) > 0 {
		body = resp.Body
	}

	const stmt = `
INSERT INTO idempotency_keys (scope_key, request_hash, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
ON CONFLICT (scope_key) DO UPDATE
SET status = EXCLUDED.status,
    response_status = EXCLUDED.response_status,
    response_headers = EXCLUDED.response_headers,
    response_body = EXCLUDED.response_body,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.request_hash = EXCLUDED.request_hash`

	tag, err := s.pool.Exec(ctx, stmt, storageKey(key), fingerprint, string(StatusCompleted), resp.Status, headers, body, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release drops a pending reservation so the client may retry with the same key.
func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE scope_key = $1 AND request_hash = $2 AND status = $3`,
		storageKey(key), fingerprint, string(StatusPending))
	if err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired deletes up to limit expired rows.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	const stmt = `
DELETE FROM idempotency_keys
WHERE scope_key IN (
	SELECT scope_key FROM idempotency_keys
	WHERE expires_at <= $1
	ORDER BY expires_at
	LIMIT $2
)`
	tag, err := s.pool.Exec(ctx, stmt, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
