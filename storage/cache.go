package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tasktracker/domain"
)

type taskBackend interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	QueryTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, etag string) (string, error)
	DeleteTasks(ctx context.Context, targets []domain.Task) (domain.BatchResult, error)
}

// Cache wraps a task store with Redis-backed caching of task listings.
// Every write bumps a per-tenant generation so stale listings are never
// served; single task reads always go to the store since they carry the
// revision used for conditional writes.
type Cache struct {
	base   taskBackend
	redis  *redis.Client
	ttl    time.Duration
	tenant string
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base taskBackend, client *redis.Client, tenant string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, tenant: tenant}
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) QueryTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	key, ok := c.queryKey(ctx, q)
	if ok {
		if tasks, hit := c.load(ctx, key); hit {
			return tasks, nil
		}
	}
	tasks, err := c.base.QueryTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(ctx, key, tasks)
	}
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	out, err := c.base.InsertTask(ctx, t)
	if err != nil {
		return out, err
	}
	c.invalidate(ctx)
	return out, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, etag string) (string, error) {
	out, err := c.base.UpdateTask(ctx, id, patch, etag)
	if err != nil {
		return out, err
	}
	c.invalidate(ctx)
	return out, nil
}

func (c *Cache) DeleteTasks(ctx context.Context, targets []domain.Task) (domain.BatchResult, error) {
	res, err := c.base.DeleteTasks(ctx, targets)
	if len(res.Deleted) > 0 {
		c.invalidate(ctx)
	}
	return res, err
}

func (c *Cache) generationKey() string {
	return "tasks:" + c.tenant + ":gen"
}

// queryKey derives the cache key for q under the current generation. It
// reports false when Redis is unavailable.
func (c *Cache) queryKey(ctx context.Context, q domain.TaskQuery) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, c.generationKey()).Result()
	if errors.Is(err, redis.Nil) {
		gen = "0"
	} else if err != nil {
		return "", false
	}
	raw, err := sonic.Marshal(q)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return "tasks:" + c.tenant + ":" + gen + ":" + hex.EncodeToString(sum[:12]), true
}

func (c *Cache) load(ctx context.Context, key string) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, key string, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, c.generationKey()).Err()
}
