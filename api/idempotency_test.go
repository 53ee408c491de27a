package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, client
}

func TestRedisDeduperLifecycle(t *testing.T) {
	m, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, "acme", time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "user", "k1")
	if err != nil || !added {
		t.Fatalf("first add: %v, %v", added, err)
	}
	added, err = deduper.Add(ctx, "user", "k1")
	if err != nil || added {
		t.Fatalf("expected duplicate on second add: %v, %v", added, err)
	}
	if id, err := deduper.Result(ctx, "user", "k1"); err != nil || id != "" {
		t.Fatalf("pending key must not report a result: %q, %v", id, err)
	}

	if err := deduper.Complete(ctx, "user", "k1", "task-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if id, err := deduper.Result(ctx, "user", "k1"); err != nil || id != "task-1" {
		t.Fatalf("unexpected result: %q, %v", id, err)
	}

	m.FastForward(2 * time.Minute)
	if id, err := deduper.Result(ctx, "user", "k1"); err != nil || id != "" {
		t.Fatalf("expected key to expire: %q, %v", id, err)
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	_, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, "acme", time.Minute)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "user", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	expectedKey := "acme:user:" + dedupeKeyPrefix + ":k1"
	exists, err := client.Exists(ctx, expectedKey).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 1 {
		t.Fatalf("expected redis key %q to exist", expectedKey)
	}

	if added, _ := deduper.Add(ctx, "other", "k1"); !added {
		t.Fatalf("keys must be scoped per user")
	}
	if err := deduper.Remove(ctx, "user", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := deduper.Add(ctx, "user", "k1"); !added {
		t.Fatalf("expected removed key to be reusable")
	}
}
