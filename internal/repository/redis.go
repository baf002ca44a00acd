package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/domain"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "idempotency:"

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisIdempotencyStore keeps idempotent responses in Redis so every API
// replica sees the same keys.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (r *RedisIdempotencyStore) Claim(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, *domain.IdempotencyRecord, error) {
	if r.client == nil {
		return false, nil, errors.New("redis client is nil")
	}
	data, err := json.Marshal(domain.IdempotencyRecord{Fingerprint: fingerprint})
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, data, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return true, nil, nil
	}

	val, err := r.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; claim again.
		return r.Claim(ctx, key, fingerprint, ttl)
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return false, nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return false, &rec, nil
}

func (r *RedisIdempotencyStore) Complete(ctx context.Context, key string, rec *domain.IdempotencyRecord, ttl time.Duration) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	rec.Completed = true
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	if err := r.client.Set(ctx, idempotencyKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	if err := r.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the client if it is set.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
