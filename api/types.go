package api

import (
	"context"

	"tasktracker/service"
)

// Authenticator is implemented by types able to extract identities from
// Authorization headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (service.Identity, error)
}

// Deduper guards task creation against replayed requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Complete stores the id of the task created for key.
	Complete(ctx context.Context, userID, key, taskID string) error
	// Result returns the task id stored for key, or "" while the first
	// request is still in flight.
	Result(ctx context.Context, userID, key string) (string, error)
	// Remove deletes a previously added key, used when creation fails.
	Remove(ctx context.Context, userID, key string) error
}

// Services bundles the operations exposed over HTTP.
type Services struct {
	Tasks *service.TaskService
	Users *service.UserService
	Stats *service.StatsService
	// Feed enables the activity stream endpoint when set.
	Feed *Feed
}
