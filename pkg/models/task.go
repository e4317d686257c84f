package models

import (
	"slices"
	"time"
)

// TaskStatus represents the lifecycle of a human task.
type TaskStatus string

const (
	TaskStatusOpen     TaskStatus = "open"
	TaskStatusEnded    TaskStatus = "ended"
	TaskStatusCanceled TaskStatus = "canceled"
)

// Task is a unit of human work created by a suspended node.
type Task struct {
	ID        string         `json:"id"                  validate:"required"`
	RouteID   string         `json:"route_id"            validate:"required"`
	NodeID    string         `json:"node_id"             validate:"required"`
	Name      string         `json:"name"`
	Directive string         `json:"directive,omitempty"`
	Actors    []string       `json:"actors"`
	Delegates []string       `json:"delegates,omitempty"`
	Buttons   []Button       `json:"buttons,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Initiator string         `json:"initiator,omitempty"`
	DueDate   *time.Time     `json:"due_date,omitempty"`
	Status    TaskStatus     `json:"status"              validate:"required,oneof=open ended canceled"`
	// Outcome is the status chosen by the actor that ended the task, such as a button name.
	Outcome   string     `json:"outcome,omitempty"`
	Comment   string     `json:"comment,omitempty"`
	EndedBy   string     `json:"ended_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// IsOpen reports whether the task still awaits an actor.
func (t *Task) IsOpen() bool {
	return t.Status == TaskStatusOpen
}

// CanBeEndedBy reports whether actor is one of the task actors or delegates.
// A task without actors can be ended by anyone.
func (t *Task) CanBeEndedBy(actor string) bool {
	if len(t.Actors) == 0 && len(t.Delegates) == 0 {
		return true
	}

	return slices.Contains(t.Actors, actor) || slices.Contains(t.Delegates, actor)
}
