// Package events defines the lifecycle notifications published while routes advance.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every routing event.
const Topic = "routing.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Route lifecycle events.
	RouteStartedEvent  EventType = "route.started"
	RouteDoneEvent     EventType = "route.done"
	RouteCanceledEvent EventType = "route.canceled"
	RouteFailedEvent   EventType = "route.failed"

	// Node events.
	NodeSuspendedEvent EventType = "node.suspended"
	NodeResumedEvent   EventType = "node.resumed"
	NodeCompletedEvent EventType = "node.completed"

	// Task events.
	TaskCreatedEvent    EventType = "task.created"
	TaskEndedEvent      EventType = "task.ended"
	TaskCanceledEvent   EventType = "task.canceled"
	TaskReassignedEvent EventType = "task.reassigned"
	TaskDelegatedEvent  EventType = "task.delegated"

	EscalationExecutedEvent EventType = "escalation.executed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RouteID   string         `json:"route_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RouteStarted struct {
	BaseEvent

	ModelID       string         `json:"model_id"`
	Initiator     string         `json:"initiator,omitempty"`
	ParentRouteID string         `json:"parent_route_id,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

func (e RouteStarted) GetType() EventType {
	return RouteStartedEvent
}

type RouteDone struct {
	BaseEvent

	ParentRouteID string         `json:"parent_route_id,omitempty"`
	ParentNodeID  string         `json:"parent_node_id,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

func (e RouteDone) GetType() EventType {
	return RouteDoneEvent
}

type RouteCanceled struct {
	BaseEvent

	ParentRouteID string `json:"parent_route_id,omitempty"`
}

func (e RouteCanceled) GetType() EventType {
	return RouteCanceledEvent
}

// RouteFailed is published when a step aborts; the route keeps its last committed state.
type RouteFailed struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

func (e RouteFailed) GetType() EventType {
	return RouteFailedEvent
}

type NodeSuspended struct {
	BaseEvent

	NodeID     string `json:"node_id"`
	SubRouteID string `json:"sub_route_id,omitempty"`
}

func (e NodeSuspended) GetType() EventType {
	return NodeSuspendedEvent
}

type NodeResumed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	TaskID string `json:"task_id,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

func (e NodeResumed) GetType() EventType {
	return NodeResumedEvent
}

type NodeCompleted struct {
	BaseEvent

	NodeID      string   `json:"node_id"`
	Transitions []string `json:"transitions,omitempty"`
	Count       int64    `json:"count"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type TaskCreated struct {
	BaseEvent

	NodeID    string     `json:"node_id"`
	TaskID    string     `json:"task_id"`
	Assignees []string   `json:"assignees,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
}

func (e TaskCreated) GetType() EventType {
	return TaskCreatedEvent
}

// TaskEnded is published by the task service when an actor ends a task.
// Consumers resume the node the task belongs to.
type TaskEnded struct {
	BaseEvent

	NodeID  string `json:"node_id"`
	TaskID  string `json:"task_id"`
	Actor   string `json:"actor,omitempty"`
	Comment string `json:"comment,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (e TaskEnded) GetType() EventType {
	return TaskEndedEvent
}

type TaskCanceled struct {
	BaseEvent

	NodeID string `json:"node_id"`
	TaskID string `json:"task_id"`
}

func (e TaskCanceled) GetType() EventType {
	return TaskCanceledEvent
}

type TaskReassigned struct {
	BaseEvent

	NodeID  string   `json:"node_id"`
	TaskID  string   `json:"task_id"`
	Actors  []string `json:"actors"`
	Comment string   `json:"comment,omitempty"`
}

func (e TaskReassigned) GetType() EventType {
	return TaskReassignedEvent
}

type TaskDelegated struct {
	BaseEvent

	NodeID    string   `json:"node_id"`
	TaskID    string   `json:"task_id"`
	Delegates []string `json:"delegates"`
	Comment   string   `json:"comment,omitempty"`
}

func (e TaskDelegated) GetType() EventType {
	return TaskDelegatedEvent
}

type EscalationExecuted struct {
	BaseEvent

	NodeID string `json:"node_id"`
	RuleID string `json:"rule_id"`
	Chain  string `json:"chain"`
}

func (e EscalationExecuted) GetType() EventType {
	return EscalationExecutedEvent
}

func NewBaseEvent(eventType EventType, routeID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RouteID:   routeID,
		Metadata:  make(map[string]any),
	}
}
