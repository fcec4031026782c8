package services

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError rejects input before any write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErrorf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when a scheduler, shift, override, policy or incident is absent.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError carries enough context for the caller to decide what to do next.
type ConflictError struct {
	Message            string
	ConflictingShiftID string
	CurrentLevel       int
}

func (e *ConflictError) Error() string {
	return e.Message
}

// PreservationWarning reports an override that could not be reattached during
// shift replacement. It is returned next to a successful result, never as the error.
type PreservationWarning struct {
	OverrideID string    `json:"override_id"`
	NewUserID  string    `json:"new_user_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Reason     string    `json:"reason"`
}

func (w PreservationWarning) Error() string {
	return fmt.Sprintf("override %s (%s - %s) dropped: %s", w.OverrideID,
		w.StartTime.Format(time.RFC3339), w.EndTime.Format(time.RFC3339), w.Reason)
}

// DependencyError wraps a failure of an external collaborator such as the
// notification sender. It is logged, never returned to the caller of a mutation.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
