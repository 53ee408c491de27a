package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// failure logs a store error and returns it classified. Not-found, conflict
// and validation errors pass through untouched since they are caller facing.
func failure(logger *log.Logger, op string, fields log.Fields, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrConcurrencyConflict) {
		return err
	}
	var ioErr *domain.IOError
	if !errors.As(err, &ioErr) {
		err = &domain.IOError{Op: op, Err: err}
	}
	logger.WithError(err).WithFields(fields).Error(op + " failed")
	return err
}

func unauthorized(logger *log.Logger, actor domain.Actor, action domain.Action, taskID string) error {
	logger.WithFields(log.Fields{
		"actor":  actor.ID,
		"role":   actor.Role,
		"action": action,
		"task":   taskID,
	}).Warn("action denied")
	return fmt.Errorf("%s task %s: %w", action, taskID, domain.ErrUnauthorized)
}

// recorder appends activity entries. Failures are logged and never fail the
// operation that produced them.
type recorder struct {
	log    ActivityLog
	logger *log.Logger
	newID  func() string
}

func newRecorder(activity ActivityLog, logger *log.Logger) recorder {
	return recorder{log: activity, logger: logger, newID: uuid.NewString}
}

func (r recorder) record(ctx context.Context, at time.Time, actorID, action, taskID, description string) {
	if r.log == nil {
		return
	}
	a := domain.Activity{
		ID:          r.newID(),
		Action:      action,
		Description: description,
		ActorID:     actorID,
		TaskID:      taskID,
		Timestamp:   at,
	}
	if err := r.log.RecordActivity(ctx, a); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{"action": action, "task": taskID}).Warn("activity not recorded")
	}
}
