package storage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"tasktracker/domain"
)

func TestActivityBroadcastReachesSubscribers(t *testing.T) {
	_, client := newTestRedis(t)
	logger, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan domain.Activity, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		SubscribeActivity(ctx, client, "acme", logger, func(a domain.Activity) { got <- a })
	}()

	mem := NewMemory()
	b := NewActivityBroadcaster(mem, client, "acme", logger)
	at := time.UnixMilli(1700000000000).UTC()
	a := domain.Activity{ID: "a1", Action: domain.ActivityTaskCreated, ActorID: "u1", TaskID: "t1", Timestamp: at}

	// the subscription is established asynchronously, so publish until it is seen
	deadline := time.After(2 * time.Second)
	var received domain.Activity
wait:
	for {
		if err := b.RecordActivity(ctx, a); err != nil {
			t.Fatalf("record: %v", err)
		}
		select {
		case received = <-got:
			break wait
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no activity received")
		}
	}
	if received != a {
		t.Fatalf("received %+v, want %+v", received, a)
	}
	if len(mem.Activity()) == 0 {
		t.Fatalf("activity must be recorded in the base log")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not stop")
	}
}

func TestActivityBroadcastIsBestEffort(t *testing.T) {
	m, client := newTestRedis(t)
	logger, hook := test.NewNullLogger()
	m.Close()

	mem := NewMemory()
	b := NewActivityBroadcaster(mem, client, "acme", logger)
	if err := b.RecordActivity(context.Background(), domain.Activity{ID: "a1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("broadcast failure must not fail the write: %v", err)
	}
	if len(mem.Activity()) != 1 {
		t.Fatalf("activity not stored")
	}
	if e := hook.LastEntry(); e == nil || e.Message != "broadcast activity" {
		t.Fatalf("expected broadcast warning, got %+v", e)
	}
}

func TestActivityChannelIsPerTenant(t *testing.T) {
	if ActivityChannel("a") == ActivityChannel("b") {
		t.Fatalf("tenants must not share a channel")
	}
}
