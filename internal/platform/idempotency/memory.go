package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs local runs without Postgres and the tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[id]; ok && !existing.reclaimable(fingerprint, now) {
		return existing.outcome(fingerprint)
	}
	record := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	s.records[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	switch {
	case !ok:
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = keepHeaders(resp.Headers)
	record.ResponseBody = append([]byte(nil), resp.Body...)
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	s.records[id] = record
	return nil
}

// Release removes the reservation only while it is still pending for fingerprint.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok && record.Fingerprint == fingerprint && record.Status == StatusPending {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired removes up to limit expired records, oldest expiry first.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]string, 0)
	for id, record := range s.records {
		if record.expired(now) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return s.records[expired[i]].ExpiresAt.Before(s.records[expired[j]].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, id := range expired {
		delete(s.records, id)
	}
	return len(expired), nil
}

var _ Store = (*MemoryStore)(nil)
