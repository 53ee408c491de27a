package storage

import (
	"context"
	"errors"
	"testing"

	"tasktracker/domain"
)

func TestMemoryUpdateRequiresCurrentETag(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	created, err := m.InsertTask(ctx, domain.Task{ID: "t1", Title: "a"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	title := "b"
	etag, err := m.UpdateTask(ctx, "t1", domain.TaskPatch{Title: &title}, created.ETag)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if etag == created.ETag {
		t.Fatalf("revision must change on write")
	}
	if _, err := m.UpdateTask(ctx, "t1", domain.TaskPatch{Title: &title}, created.ETag); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict for stale etag, got %v", err)
	}
	if _, err := m.UpdateTask(ctx, "missing", domain.TaskPatch{Title: &title}, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.InsertUser(ctx, domain.User{ID: "u1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := m.InsertUser(ctx, domain.User{ID: "u1"}); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.InsertTask(ctx, domain.Task{ID: "t1", Tags: []string{"a"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _ := m.GetTask(ctx, "t1")
	got.Tags[0] = "mutated"
	again, _ := m.GetTask(ctx, "t1")
	if again.Tags[0] != "a" {
		t.Fatalf("stored task aliased by caller")
	}
}

func TestMemoryDeleteTasks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var targets []domain.Task
	for _, id := range []string{"a", "b"} {
		task, err := m.InsertTask(ctx, domain.Task{ID: id})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		targets = append(targets, task)
	}
	res, err := m.DeleteTasks(ctx, targets)
	if err != nil || !res.Atomic || len(res.Deleted) != 2 {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
	if _, err := m.GetTask(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected task removed, got %v", err)
	}
}

func TestMemoryDeleteTasksChecksETags(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, err := m.InsertTask(ctx, domain.Task{ID: "a", Deleted: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	b, err := m.InsertTask(ctx, domain.Task{ID: "b", Deleted: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	live := false
	if _, err := m.UpdateTask(ctx, "b", domain.TaskPatch{Deleted: &live, ClearDeletedAt: true}, b.ETag); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, err := m.DeleteTasks(ctx, []domain.Task{a, b}); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict for stale etag, got %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := m.GetTask(ctx, id); err != nil {
			t.Fatalf("%s must remain after a rejected batch: %v", id, err)
		}
	}
}
