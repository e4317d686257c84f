// Package services provides the routing facade used by the binaries and
// its standardized error types.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/routing/pkg/persistence"
	"github.com/dukex/routing/pkg/routing"
	"github.com/dukex/routing/pkg/tasks"
)

// Business Logic Errors - These indicate client errors.
var (
	// Validation Errors.
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidModel   = errors.New("invalid route model")

	// Permission Errors.
	ErrNotAllowed = errors.New("actor is not allowed to act on task")

	// Conflicts.
	ErrTaskNotEnded = errors.New("task has not ended")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error comes from a malformed request or model.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidModel) ||
		routing.IsConfigurationError(err)
}

// IsConflictError checks if an error is a request the current state of the
// route or task does not allow.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrTaskNotEnded) ||
		errors.Is(err, ErrNotAllowed) ||
		errors.Is(err, tasks.ErrTaskClosed) ||
		errors.Is(err, routing.ErrRouteTerminal) ||
		errors.Is(err, routing.ErrInvalidRouteState) ||
		errors.Is(err, routing.ErrNotSuspended) ||
		errors.Is(err, routing.ErrTaskEnded) ||
		errors.Is(err, routing.ErrReassignmentNotAllowed)
}

// IsNotFoundError checks if an error names a route, model or task that does not exist.
func IsNotFoundError(err error) bool {
	return persistence.IsRouteNotFound(err) ||
		persistence.IsModelNotFound(err) ||
		errors.Is(err, tasks.ErrTaskNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
