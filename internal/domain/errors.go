package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidDecision indicates a workflow decision outside {reject, verify}.
	ErrInvalidDecision = fmt.Errorf("invalid decision: %w", ErrInvalidInput)

	// ErrUnauthorized indicates that the request lacks valid authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates that the request is not allowed for the authenticated user.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates the request conflicts with the current workflow state.
	ErrConflict = errors.New("conflict")

	// ErrServiceUnavailable indicates that a collaborator is temporarily unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInternalError indicates an internal server error.
	ErrInternalError = errors.New("internal error")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ForbiddenError names the action a principal was not allowed to perform.
type ForbiddenError struct {
	Action string
	Reason string
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s: %s", e.Action, e.Reason)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// TransientError reports a collaborator failure that may succeed on retry.
type TransientError struct {
	Source string
	Cause  error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("%s temporarily unavailable: %v", e.Source, e.Cause)
}

// Unwrap returns both the transient sentinel and the cause.
func (e *TransientError) Unwrap() []error {
	return []error{ErrServiceUnavailable, e.Cause}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewForbiddenError creates a new ForbiddenError.
func NewForbiddenError(action, reason string) *ForbiddenError {
	return &ForbiddenError{
		Action: action,
		Reason: reason,
	}
}

// NewTransientError creates a new TransientError.
func NewTransientError(source string, cause error) *TransientError {
	return &TransientError{
		Source: source,
		Cause:  cause,
	}
}

// IsTransient reports whether err is a retryable collaborator failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}
