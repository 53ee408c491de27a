package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates that an entity id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates that the actor lacks permission for the action.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrTransientIO marks storage failures that are safe to retry.
	ErrTransientIO = errors.New("transient storage failure")
	// ErrPermanentIO marks storage failures that will not succeed on retry.
	ErrPermanentIO = errors.New("storage failure")
)

// ValidationError lists invalid fields with a message for each.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IOError wraps a persistence failure with its retry classification.
type IOError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *IOError) Error() string {
	kind := ErrPermanentIO
	if e.Transient {
		kind = ErrTransientIO
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
}

func (e *IOError) Is(target error) bool {
	if e.Transient {
		return target == ErrTransientIO
	}
	return target == ErrPermanentIO
}

func (e *IOError) Unwrap() error { return e.Err }
