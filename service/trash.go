package service

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// PurgeReport describes the outcome of a permanent delete.
type PurgeReport struct {
	Purged    int               `json:"purged"`
	PurgedIDs []string          `json:"purgedIds"`
	Failed    map[string]string `json:"failed,omitempty"`
	// Atomic is true when the batch was committed as one transaction.
	Atomic bool `json:"atomic"`
}

// Delete moves a task to the trash.
func (s *TaskService) Delete(ctx context.Context, actor domain.Actor, id string) (domain.Task, error) {
	t, changed, err := s.mutate(ctx, actor, id, domain.ActionDelete, false, func(t domain.Task) (domain.TaskPatch, error) {
		if t.Deleted {
			return domain.TaskPatch{}, nil
		}
		deleted := true
		now := s.clock()
		return domain.TaskPatch{Deleted: &deleted, DeletedAt: &now}, nil
	})
	if err == nil && changed {
		s.activity.record(ctx, t.UpdatedAt, actor.ID, domain.ActivityTaskDeleted, id, fmt.Sprintf("moved %q to the trash", t.Title))
	}
	return t, err
}

// Restore brings a task back from the trash.
func (s *TaskService) Restore(ctx context.Context, actor domain.Actor, id string) (domain.Task, error) {
	t, changed, err := s.mutate(ctx, actor, id, domain.ActionRestore, false, func(t domain.Task) (domain.TaskPatch, error) {
		if !t.Deleted {
			return domain.TaskPatch{}, nil
		}
		deleted := false
		return domain.TaskPatch{Deleted: &deleted, ClearDeletedAt: true}, nil
	})
	if err == nil && changed {
		s.activity.record(ctx, t.UpdatedAt, actor.ID, domain.ActivityTaskRestored, id, fmt.Sprintf("restored %q from the trash", t.Title))
	}
	return t, err
}

// ListTrash returns the deleted tasks the actor may restore, most recently
// deleted first.
func (s *TaskService) ListTrash(ctx context.Context, actor domain.Actor) ([]domain.Task, error) {
	q := domain.TaskQuery{OrderBy: domain.OrderDeletedAt, Descending: true}.With(domain.FieldDeleted, true)
	if !actor.IsAdmin() {
		if !actor.Active || actor.ID == "" {
			return nil, unauthorized(s.log, actor, domain.ActionRestore, "")
		}
		q = q.With(domain.FieldCreatedBy, actor.ID)
	}
	tasks, err := s.tasks.QueryTasks(ctx, q)
	if err != nil {
		return nil, failure(s.log, "list trash", log.Fields{"actor": actor.ID}, err)
	}
	return tasks, nil
}

// Purge permanently removes one task from the trash. Admin only.
func (s *TaskService) Purge(ctx context.Context, actor domain.Actor, id string) (PurgeReport, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return PurgeReport{}, err
	}
	if !domain.CanPerform(actor, t, domain.ActionPurge) {
		return PurgeReport{}, unauthorized(s.log, actor, domain.ActionPurge, id)
	}
	if !t.Deleted {
		return PurgeReport{}, domain.NewValidationError("deleted", "only tasks in the trash can be purged")
	}
	return purge(ctx, s.tasks, s.activity, s.log, s.clock(), actor.ID, []domain.Task{t})
}

// EmptyTrash purges every trashed task past the retention window. Admin only.
func (s *TaskService) EmptyTrash(ctx context.Context, actor domain.Actor) (PurgeReport, error) {
	if !actor.IsAdmin() {
		return PurgeReport{}, unauthorized(s.log, actor, domain.ActionPurge, "")
	}
	return sweep(ctx, s.tasks, s.activity, s.log, s.clock(), actor.ID, s.retentionDays)
}

// Sweeper runs the automated retention sweep on behalf of the system.
type Sweeper struct {
	tasks         TaskStore
	activity      recorder
	log           *log.Logger
	now           func() time.Time
	retentionDays int
}

func NewSweeper(tasks TaskStore, activity ActivityLog, logger *log.Logger, retentionDays int) *Sweeper {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sweeper{
		tasks:         tasks,
		activity:      newRecorder(activity, logger),
		log:           logger,
		now:           time.Now,
		retentionDays: retentionDays,
	}
}

// PurgeExpired permanently removes trashed tasks deleted before the
// retention window.
func (s *Sweeper) PurgeExpired(ctx context.Context) (PurgeReport, error) {
	return sweep(ctx, s.tasks, s.activity, s.log, s.now().UTC(), domain.SystemActorID, s.retentionDays)
}

func sweep(ctx context.Context, tasks TaskStore, activity recorder, logger *log.Logger, now time.Time, actorID string, retentionDays int) (PurgeReport, error) {
	trashed, err := tasks.QueryTasks(ctx, domain.TaskQuery{}.With(domain.FieldDeleted, true))
	if err != nil {
		return PurgeReport{}, failure(logger, "list trash", log.Fields{"actor": actorID}, err)
	}
	expired := domain.SelectPurgeable(trashed, now, retentionDays)
	report, err := purge(ctx, tasks, activity, logger, now, actorID, expired)
	if err != nil {
		return report, err
	}
	logger.WithFields(log.Fields{
		"actor":     actorID,
		"trashed":   len(trashed),
		"purged":    report.Purged,
		"failed":    len(report.Failed),
		"retention": retentionDays,
	}).Info("trash sweep complete")
	activity.record(ctx, now, actorID, domain.ActivityTrashSwept, "", fmt.Sprintf("purged %d expired tasks from the trash", report.Purged))
	return report, nil
}

// purge deletes targets as one batch, guarded by the ETags they were
// selected with so a task restored in the meantime is left alone. When the
// store commits the batch atomically a failure leaves every target in place;
// otherwise the report lists per-item failures.
func purge(ctx context.Context, tasks TaskStore, activity recorder, logger *log.Logger, now time.Time, actorID string, targets []domain.Task) (PurgeReport, error) {
	report := PurgeReport{PurgedIDs: []string{}}
	if len(targets) == 0 {
		return report, nil
	}
	titles := make(map[string]string, len(targets))
	for _, t := range targets {
		titles[t.ID] = t.Title
	}
	res, err := tasks.DeleteTasks(ctx, targets)
	report.Atomic = res.Atomic
	if err != nil {
		return report, failure(logger, "purge tasks", log.Fields{"actor": actorID, "count": len(targets)}, err)
	}
	report.Purged = len(res.Deleted)
	report.PurgedIDs = append(report.PurgedIDs, res.Deleted...)
	if len(res.Failed) > 0 {
		report.Failed = make(map[string]string, len(res.Failed))
		for id, ferr := range res.Failed {
			report.Failed[id] = ferr.Error()
			logger.WithError(ferr).WithFields(log.Fields{"task": id, "actor": actorID}).Warn("task not purged")
		}
	}
	for _, id := range res.Deleted {
		activity.record(ctx, now, actorID, domain.ActivityTaskPurged, id, fmt.Sprintf("permanently deleted %q", titles[id]))
	}
	return report, nil
}
