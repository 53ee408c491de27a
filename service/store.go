package service

import (
	"context"

	"tasktracker/domain"
)

// TaskStore persists tasks. Implementations return domain.ErrNotFound for
// unknown ids, domain.ErrConcurrencyConflict when etag no longer matches and
// *domain.IOError for infrastructure failures. DeleteTasks checks each
// target's ETag the same way.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	QueryTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, etag string) (string, error)
	DeleteTasks(ctx context.Context, targets []domain.Task) (domain.BatchResult, error)
}

// UserStore persists user profiles.
type UserStore interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	InsertUser(ctx context.Context, u domain.User) (domain.User, error)
	UpdateUser(ctx context.Context, id string, patch domain.UserPatch, etag string) (string, error)
}

// ActivityLog records audit entries.
type ActivityLog interface {
	RecordActivity(ctx context.Context, a domain.Activity) error
}
