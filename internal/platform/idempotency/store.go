// Package idempotency replays the stored response of a mutating request (checkout, refund) when
// a client retries it with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTTL is how long a completed response stays replayable.
	DefaultTTL = 24 * time.Hour
	// PendingLease is how long a pending reservation blocks retries of the same request. After it
	// lapses the reservation is presumed orphaned by a crashed instance and may be taken over.
	PendingLease = 2 * time.Minute
	// MaxKeyLength bounds client supplied keys.
	MaxKeyLength = 255
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Store.Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and runs the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means the stored response is replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

// Reservation is the result of reserving a key.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is a stored reservation or response.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// reclaimable reports whether a reservation for fingerprint may replace r at now.
func (r Record) reclaimable(fingerprint string, now time.Time) bool {
	if r.expired(now) {
		return true
	}
	return r.Status == StatusPending && r.Fingerprint == fingerprint && !now.Before(r.UpdatedAt.Add(PendingLease))
}

// outcome maps a live record to the reservation returned to a second caller.
func (r Record) outcome(fingerprint string) (Reservation, error) {
	if r.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if r.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: r}, nil
	}
	return Reservation{State: ReservationStatePending, Record: r}, nil
}

// Response is the HTTP response stored for future replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses. Keys are already scoped to the caller.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// storageKey is the hex SHA-256 of the scoped key; raw client keys are never stored.
func storageKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// replayedHeaders are the only response headers kept for replay. Per-request headers such as
// request and trace ids are regenerated on the replaying request.
var replayedHeaders = []string{"Content-Type", "Content-Language", "Location", "Cache-Control", "Etag", "Retry-After"}

func keepHeaders(header http.Header) map[string][]string {
	kept := make(map[string][]string, len(replayedHeaders))
	for _, name := range replayedHeaders {
		if values := header.Values(name); len(values) > 0 {
			kept[name] = append([]string(nil), values...)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[http.CanonicalHeaderKey(name)] = append([]string(nil), vals...)
	}
	return header
}
