// Package tasks manages the human tasks that suspend route nodes.
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/routing/pkg/models"
)

var (
	// ErrTaskNotFound is returned when no task has the given id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskClosed is returned when a task that already ended or was canceled is modified.
	ErrTaskClosed = errors.New("task is closed")
	// ErrNoActors is returned when a reassignment or delegation names nobody.
	ErrNoActors = errors.New("no actors given")
)

// CreateTaskRequest describes the task a node spawns.
type CreateTaskRequest struct {
	RouteID   string
	NodeID    string
	Name      string
	Directive string
	Assignees []string
	DueDate   time.Time
	Buttons   []models.Button
	Variables map[string]any
	Initiator string
}

// TaskService creates and closes the tasks of suspended nodes.
type TaskService interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (string, error)
	EndTask(ctx context.Context, taskID, actor, comment, status string) error
	CancelTask(ctx context.Context, taskID string) error
	ReassignTask(ctx context.Context, taskID string, actors []string, comment string) error
	DelegateTask(ctx context.Context, taskID string, delegates []string, comment string) error
	Get(ctx context.Context, taskID string) (*models.Task, error)
	OpenTasks(ctx context.Context, routeID string) ([]*models.Task, error)
}
