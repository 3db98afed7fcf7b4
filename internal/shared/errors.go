package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the principal lacks the required capability.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnauthenticated indicates an anonymous principal attempted a restricted action.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrValidation indicates rejected input. No state was written.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrCycleDetected indicates corrupted bar parent links.
	ErrCycleDetected = errors.New("bar hierarchy cycle detected")
	// ErrConcurrentMutation indicates a ledger target changed outside its serialisation point.
	ErrConcurrentMutation = errors.New("concurrent mutation conflict")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError describes a rejected field. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

// Unwrap exposes the sentinel.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
