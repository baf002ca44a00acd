package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tourbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverIdempotencyStore uses primary (Redis) until it errors, then serves
// from fallback (memory) and probes primary again after recoveryInterval.
type FailoverIdempotencyStore struct {
	primary   domain.IdempotencyStore
	fallback  domain.IdempotencyStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverIdempotencyStore(primary, fallback domain.IdempotencyStore, logger *zerolog.Logger) *FailoverIdempotencyStore {
	return &FailoverIdempotencyStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverIdempotencyStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverIdempotencyStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary idempotency store failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverIdempotencyStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary idempotency store recovered")
	}
}

func (r *FailoverIdempotencyStore) Claim(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, *domain.IdempotencyRecord, error) {
	if r.usePrimary() {
		ok, rec, err := r.primary.Claim(ctx, key, fingerprint, ttl)
		if err == nil {
			r.markUp()
			return ok, rec, nil
		}
		r.markDown(err)
	}
	return r.fallback.Claim(ctx, key, fingerprint, ttl)
}

func (r *FailoverIdempotencyStore) Complete(ctx context.Context, key string, rec *domain.IdempotencyRecord, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.Complete(ctx, key, rec, ttl)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Complete(ctx, key, rec, ttl)
}

func (r *FailoverIdempotencyStore) Release(ctx context.Context, key string) error {
	if r.usePrimary() {
		err := r.primary.Release(ctx, key)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Release(ctx, key)
}
