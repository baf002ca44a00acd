package repository

import (
	"context"
	"sync"
	"time"

	"tourbook/internal/domain"
)

type memoryEntry struct {
	rec       domain.IdempotencyRecord
	expiresAt time.Time
}

// MemoryIdempotencyStore is the single-process idempotency store.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (r *MemoryIdempotencyStore) Claim(_ context.Context, key, fingerprint string, ttl time.Duration) (bool, *domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.entries[key]; ok && now.Before(e.expiresAt) {
		rec := e.rec
		return false, &rec, nil
	}
	r.entries[key] = memoryEntry{rec: domain.IdempotencyRecord{Fingerprint: fingerprint}, expiresAt: now.Add(ttl)}
	r.sweep(now)
	return true, nil, nil
}

func (r *MemoryIdempotencyStore) Complete(_ context.Context, key string, rec *domain.IdempotencyRecord, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.Completed = true
	stored := *rec
	stored.Body = append([]byte(nil), rec.Body...)
	r.entries[key] = memoryEntry{rec: stored, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

// sweep drops expired entries. Caller holds mu.
func (r *MemoryIdempotencyStore) sweep(now time.Time) {
	for k, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, k)
		}
	}
}
