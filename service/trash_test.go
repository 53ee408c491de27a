package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"tasktracker/domain"
	"tasktracker/storage"
)

func daysAgo(n int) *time.Time {
	t := now.AddDate(0, 0, -n)
	return &t
}

func TestDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "t1", nil)
	ctx := context.Background()

	deleted, err := f.tasks.Delete(ctx, alice, "t1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.Deleted || deleted.DeletedAt == nil || !deleted.DeletedAt.Equal(now) {
		t.Fatalf("unexpected deleted task: %+v", deleted)
	}

	again, err := f.tasks.Delete(ctx, alice, "t1")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if again.ETag != deleted.ETag {
		t.Fatalf("deleting a trashed task must not write")
	}

	restored, err := f.tasks.Restore(ctx, alice, "t1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Deleted || restored.DeletedAt != nil {
		t.Fatalf("unexpected restored task: %+v", restored)
	}

	var actions []string
	for _, a := range f.store.Activity() {
		actions = append(actions, a.Action)
	}
	if len(actions) != 2 || actions[0] != domain.ActivityTaskDeleted || actions[1] != domain.ActivityTaskRestored {
		t.Fatalf("unexpected activity trail: %v", actions)
	}
}

func TestListTrash(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "older", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(5) })
	f.seed(t, "newer", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(1) })
	f.seed(t, "admins", func(task *domain.Task) { task.CreatedBy = "admin"; task.Deleted = true; task.DeletedAt = daysAgo(2) })
	f.seed(t, "live", nil)

	all, err := f.tasks.ListTrash(context.Background(), admin)
	if err != nil {
		t.Fatalf("admin trash: %v", err)
	}
	if len(all) != 3 || all[0].ID != "newer" || all[2].ID != "older" {
		t.Fatalf("unexpected admin trash order: %+v", all)
	}

	own, err := f.tasks.ListTrash(context.Background(), alice)
	if err != nil {
		t.Fatalf("alice trash: %v", err)
	}
	if len(own) != 2 {
		t.Fatalf("expected alice to see her 2 trashed tasks, got %d", len(own))
	}
	none, err := f.tasks.ListTrash(context.Background(), bob)
	if err != nil {
		t.Fatalf("bob trash: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("assignees must not see trashed tasks they did not create")
	}
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "live", nil)
	f.seed(t, "trashed", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(1) })
	ctx := context.Background()

	if _, err := f.tasks.Purge(ctx, alice, "trashed"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("employee purge: expected unauthorized, got %v", err)
	}
	if _, err := f.tasks.Purge(ctx, admin, "live"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("purging a live task: expected validation error, got %v", err)
	}
	report, err := f.tasks.Purge(ctx, admin, "trashed")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if report.Purged != 1 || report.PurgedIDs[0] != "trashed" || !report.Atomic {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := f.store.GetTask(ctx, "trashed"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected purged task to be gone, got %v", err)
	}
}

func TestSweepPurgesOnlyExpired(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "old", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(31) })
	f.seed(t, "recent", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(10) })
	f.seed(t, "live", func(task *domain.Task) { task.CreatedAt = *daysAgo(90) })

	logger, _ := test.NewNullLogger()
	sweeper := NewSweeper(f.store, f.store, logger, 30)
	sweeper.now = func() time.Time { return now }

	report, err := sweeper.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Purged != 1 || len(report.PurgedIDs) != 1 || report.PurgedIDs[0] != "old" {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, id := range []string{"recent", "live"} {
		if _, err := f.store.GetTask(context.Background(), id); err != nil {
			t.Fatalf("%s must survive the sweep: %v", id, err)
		}
	}

	acts := f.store.Activity()
	if len(acts) != 2 {
		t.Fatalf("expected purge and sweep entries, got %+v", acts)
	}
	for _, a := range acts {
		if a.ActorID != domain.SystemActorID {
			t.Fatalf("sweep activity must be attributed to the system, got %s", a.ActorID)
		}
	}
	if acts[0].Action != domain.ActivityTaskPurged || acts[0].TaskID != "old" || acts[1].Action != domain.ActivityTrashSwept {
		t.Fatalf("unexpected activity: %+v", acts)
	}
}

func TestEmptyTrashAdminOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "old", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(45) })

	if _, err := f.tasks.EmptyTrash(context.Background(), alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	report, err := f.tasks.EmptyTrash(context.Background(), admin)
	if err != nil {
		t.Fatalf("empty trash: %v", err)
	}
	if report.Purged != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

// brokenBatchStore rejects every batch delete the way a failed table
// transaction does.
type brokenBatchStore struct {
	*storage.Memory
}

func (brokenBatchStore) DeleteTasks(context.Context, []domain.Task) (domain.BatchResult, error) {
	return domain.BatchResult{Atomic: true}, &domain.IOError{Op: "submit transaction", Transient: true, Err: errors.New("503")}
}

func TestFailedAtomicPurgeKeepsEverything(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(40) })
	f.seed(t, "b", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(40) })

	logger, _ := test.NewNullLogger()
	sweeper := NewSweeper(brokenBatchStore{f.store}, f.store, logger, 30)
	sweeper.now = func() time.Time { return now }

	report, err := sweeper.PurgeExpired(context.Background())
	if !errors.Is(err, domain.ErrTransientIO) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !report.Atomic || report.Purged != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := f.store.GetTask(context.Background(), id); err != nil {
			t.Fatalf("%s must remain after a failed batch: %v", id, err)
		}
	}
	if len(f.store.Activity()) != 0 {
		t.Fatalf("failed purge must not be recorded")
	}
}

type partialBatchStore struct {
	*storage.Memory
}

func (s partialBatchStore) DeleteTasks(ctx context.Context, targets []domain.Task) (domain.BatchResult, error) {
	res := domain.BatchResult{Failed: map[string]error{}}
	for i, task := range targets {
		if i == 0 {
			res.Failed[task.ID] = &domain.IOError{Op: "delete entity", Err: errors.New("403")}
			continue
		}
		if _, err := s.Memory.DeleteTasks(ctx, []domain.Task{task}); err != nil {
			return res, err
		}
		res.Deleted = append(res.Deleted, task.ID)
	}
	return res, nil
}

func TestBestEffortPurgeReportsFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(40) })
	f.seed(t, "b", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(41) })
	f.tasks.tasks = partialBatchStore{f.store}

	report, err := f.tasks.EmptyTrash(context.Background(), admin)
	if err != nil {
		t.Fatalf("empty trash: %v", err)
	}
	if report.Atomic || report.Purged != 1 || len(report.Failed) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

// racingStore runs before ahead of every batch delete, standing in for a
// request that lands between selection and deletion.
type racingStore struct {
	*storage.Memory
	before func()
}

func (s racingStore) DeleteTasks(ctx context.Context, targets []domain.Task) (domain.BatchResult, error) {
	s.before()
	return s.Memory.DeleteTasks(ctx, targets)
}

func TestSweepSkipsTaskRestoredMidway(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "t1", func(task *domain.Task) { task.Deleted = true; task.DeletedAt = daysAgo(40) })
	store := racingStore{Memory: f.store, before: func() {
		if _, err := f.tasks.Restore(context.Background(), admin, "t1"); err != nil {
			t.Errorf("restore: %v", err)
		}
	}}

	logger, _ := test.NewNullLogger()
	sweeper := NewSweeper(store, f.store, logger, 30)
	sweeper.now = func() time.Time { return now }

	report, err := sweeper.PurgeExpired(context.Background())
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v (report %+v)", err, report)
	}
	if report.Purged != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	got, err := f.store.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("restored task must survive the sweep: %v", err)
	}
	if got.Deleted || got.DeletedAt != nil {
		t.Fatalf("expected live task, got %+v", got)
	}
}
