package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasktracker/domain"
)

type countingBackend struct {
	*Memory
	queries int
}

func (b *countingBackend) QueryTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	b.queries++
	return b.Memory.QueryTasks(ctx, q)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheQueryMissThenHit(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	backend := &countingBackend{Memory: NewMemory()}
	if _, err := backend.InsertTask(ctx, domain.Task{ID: "t1", Title: "Write code"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cache := NewCache(backend, client, "acme", time.Minute)
	q := domain.TaskQuery{}.With(domain.FieldDeleted, false)

	for i := 0; i < 2; i++ {
		tasks, err := cache.QueryTasks(ctx, q)
		if err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
		if len(tasks) != 1 || tasks[0].ID != "t1" {
			t.Fatalf("query %d: unexpected tasks %+v", i, tasks)
		}
	}
	if backend.queries != 1 {
		t.Fatalf("expected one backend query, got %d", backend.queries)
	}
}

func TestCacheWritesInvalidateListings(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	backend := &countingBackend{Memory: NewMemory()}
	cache := NewCache(backend, client, "acme", time.Minute)
	q := domain.TaskQuery{}.With(domain.FieldDeleted, false)

	if tasks, _ := cache.QueryTasks(ctx, q); len(tasks) != 0 {
		t.Fatalf("expected empty listing")
	}
	created, err := cache.InsertTask(ctx, domain.Task{ID: "t1", Title: "Write code"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if tasks, _ := cache.QueryTasks(ctx, q); len(tasks) != 1 {
		t.Fatalf("insert must invalidate the cached listing, got %d tasks", len(tasks))
	}

	deleted := true
	if _, err := cache.UpdateTask(ctx, "t1", domain.TaskPatch{Deleted: &deleted}, created.ETag); err != nil {
		t.Fatalf("update: %v", err)
	}
	if tasks, _ := cache.QueryTasks(ctx, q); len(tasks) != 0 {
		t.Fatalf("soft-deleted task must leave the listing, got %d", len(tasks))
	}
	if backend.queries != 3 {
		t.Fatalf("expected a backend query per generation, got %d", backend.queries)
	}
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()
	ctx := context.Background()
	backend := &countingBackend{Memory: NewMemory()}
	cache := NewCache(backend, client, "acme", time.Minute)

	if _, err := cache.QueryTasks(ctx, domain.TaskQuery{}); err != nil {
		t.Fatalf("query must not fail when redis is down: %v", err)
	}
	if backend.queries != 1 {
		t.Fatalf("expected backend query, got %d", backend.queries)
	}
}

func TestCacheDisabledWithZeroTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(&countingBackend{Memory: NewMemory()}, client, "acme", 0)
	if _, err := cache.QueryTasks(ctx, domain.TaskQuery{}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys with caching disabled, got %v", keys)
	}
}
