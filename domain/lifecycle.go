package domain

import "time"

// Progress placeholders stamped on status changes. Explicit progress values
// supplied with the same change take precedence.
const (
	progressStarted  = 50
	progressComplete = 100
	progressReset    = 0
)

// StatusChange is a requested status and/or progress write.
type StatusChange struct {
	Status   *Status
	Progress *int
}

// Validate checks the change on its own, before any task is loaded.
func (c StatusChange) Validate() error {
	if c.Status == nil && c.Progress == nil {
		return NewValidationError("status", "status or progress is required")
	}
	if c.Status != nil && !c.Status.Valid() {
		return NewValidationError("status", "must be one of assigned, in-progress, completed, blocked")
	}
	if c.Progress != nil && (*c.Progress < 0 || *c.Progress > 100) {
		return NewValidationError("progress", "must be between 0 and 100")
	}
	if c.Status != nil && c.Progress != nil {
		if (*c.Status == StatusCompleted) != (*c.Progress == progressComplete) {
			return NewValidationError("progress", "must be 100 exactly when status is completed")
		}
	}
	return nil
}

// DeriveStatusSideEffects computes the fields to stamp when change is applied
// to t at time now. Re-requesting the current state yields an empty patch.
func DeriveStatusSideEffects(t Task, change StatusChange, now time.Time) (TaskPatch, error) {
	if err := change.Validate(); err != nil {
		return TaskPatch{}, err
	}

	target := TargetStatus(t, change)

	var patch TaskPatch
	if target != t.Status {
		patch.Status = &target
		if t.Status == StatusCompleted {
			patch.ClearCompletedAt = true
		}
		switch target {
		case StatusCompleted:
			patch.CompletedAt = &now
			patch.ClearCompletedAt = false
			patch.Progress = intPtr(progressComplete)
		case StatusInProgress:
			if t.StartedAt == nil {
				patch.StartedAt = &now
			}
			patch.Progress = intPtr(progressStarted)
		case StatusBlocked, StatusAssigned:
			patch.Progress = intPtr(progressReset)
		}
	}
	if change.Progress != nil && (patch.Progress != nil || *change.Progress != t.Progress) {
		patch.Progress = intPtr(*change.Progress)
	}
	return patch, nil
}

// TargetStatus returns the status t ends up in once change is applied.
func TargetStatus(t Task, change StatusChange) Status {
	if change.Status != nil {
		return *change.Status
	}
	if change.Progress == nil {
		return t.Status
	}
	p := *change.Progress
	switch {
	case p == progressComplete:
		return StatusCompleted
	case t.Status == StatusCompleted:
		return StatusInProgress
	case p > 0 && t.Status == StatusAssigned:
		return StatusInProgress
	}
	return t.Status
}

func intPtr(i int) *int { return &i }
