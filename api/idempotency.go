package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "idem"
	pendingMarker   = "pending"
)

// RedisDeduper stores idempotency keys in Redis so all instances agree on
// which create requests were already processed.
type RedisDeduper struct {
	client *redis.Client
	tenant string
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, tenant string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, tenant: tenant, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.tenant, userID, dedupeKeyPrefix, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), pendingMarker, r.ttl).Result()
}

func (r *RedisDeduper) Complete(ctx context.Context, userID, key, taskID string) error {
	return r.client.Set(ctx, r.key(userID, key), taskID, r.ttl).Err()
}

func (r *RedisDeduper) Result(ctx context.Context, userID, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(userID, key)).Result()
	if errors.Is(err, redis.Nil) || v == pendingMarker {
		return "", nil
	}
	return v, err
}

// Remove deletes a previously recorded key so the caller may retry.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
