package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence errors every implementation returns.
var (
	// ErrRouteNotFound indicates no route has the given identifier.
	ErrRouteNotFound = errors.New("route not found")

	// ErrModelNotFound indicates no route model matches the given id or name.
	ErrModelNotFound = errors.New("route model not found")

	// ErrRouteAlreadyExists indicates a route with the same identifier already exists.
	ErrRouteAlreadyExists = errors.New("route already exists")

	// ErrTaskNotFound indicates no task has the given identifier.
	ErrTaskNotFound = errors.New("task not found")
)

// RouteError wraps route storage errors with the operation and route.
type RouteError struct {
	Op      string // Operation being performed (e.g., "Get", "Commit", "Delete")
	RouteID string
	Err     error
	Message string // Additional context message
}

func (e *RouteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for route %s: %s (%v)", e.Op, e.RouteID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for route %s: %v", e.Op, e.RouteID, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for route errors.
func (e *RouteError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRouteError creates a new route error with context.
func NewRouteError(op, routeID string, err error) *RouteError {
	return &RouteError{
		Op:      op,
		RouteID: routeID,
		Err:     err,
	}
}

// TaskError wraps task storage errors with additional context.
type TaskError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s operation failed for task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTaskError creates a new task error with context.
func NewTaskError(op, taskID string, err error) *TaskError {
	return &TaskError{
		Op:     op,
		TaskID: taskID,
		Err:    err,
	}
}

// IsRouteNotFound checks if an error indicates a route was not found.
func IsRouteNotFound(err error) bool {
	return errors.Is(err, ErrRouteNotFound)
}

// IsModelNotFound checks if an error indicates a route model was not found.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsTaskNotFound checks if an error indicates a task was not found.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}
