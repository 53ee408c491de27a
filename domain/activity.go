package domain

import "time"

// Activity keywords recorded in the audit trail.
const (
	ActivityTaskCreated       = "task-created"
	ActivityTaskUpdated       = "task-updated"
	ActivityStatusChanged     = "task-status-changed"
	ActivityProgressUpdated   = "task-progress-updated"
	ActivityTaskCommented     = "task-commented"
	ActivityAttachmentAdded   = "task-attachment-added"
	ActivityAttachmentRemoved = "task-attachment-removed"
	ActivityTaskReassigned    = "task-reassigned"
	ActivityTaskDeleted       = "task-deleted"
	ActivityTaskRestored      = "task-restored"
	ActivityTaskPurged        = "task-purged"
	ActivityTrashSwept        = "trash-swept"
	ActivityUserCreated       = "user-created"
	ActivityUserLoggedIn      = "user-logged-in"
	ActivityUserUpdated       = "user-updated"
)

// SystemActorID identifies automated jobs in the audit trail.
const SystemActorID = "system"

// Activity is an append-only audit entry.
type Activity struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	ActorID     string    `json:"actorId"`
	TaskID      string    `json:"taskId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
