package routing

import (
	"errors"
	"fmt"
)

// Configuration errors: the graph is malformed. Never retried.
var (
	ErrNoStartNode        = errors.New("no start node for graph")
	ErrMultipleStartNodes = errors.New("more than one start node for graph")
	ErrNoStopNode         = errors.New("no stop node for graph")
	ErrDuplicateNodeID    = errors.New("duplicate node id")
	ErrInvalidMergeMode   = errors.New("invalid merge mode")
	ErrNodeNotFound       = errors.New("node not found")
)

// Execution errors.
var (
	ErrNoTrueTransition       = errors.New("no transition evaluated to true")
	ErrExecutionLooping       = errors.New("execution is looping")
	ErrStopWithPending        = errors.New("stop node reached with pending nodes")
	ErrNotSuspended           = errors.New("node is not suspended")
	ErrInvalidNodeState       = errors.New("invalid node state")
	ErrRouteTerminal          = errors.New("route is in a terminal state")
	ErrInvalidRouteState      = errors.New("invalid route state")
	ErrReassignmentNotAllowed = errors.New("task reassignment is not allowed on node")
	ErrTaskEnded              = errors.New("task already ended")
	ErrNoTaskAssignees        = errors.New("no assignee to create one task each for")
)

// RouteError wraps an engine error with the operation and its target.
type RouteError struct {
	Op      string // Operation being performed (e.g., "Start", "Resume", "Cancel")
	RouteID string
	NodeID  string
	Err     error
}

func (e *RouteError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s failed for node %s of route %s: %v", e.Op, e.NodeID, e.RouteID, e.Err)
	}

	return fmt.Sprintf("%s failed for route %s: %v", e.Op, e.RouteID, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

func (e *RouteError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newRouteError(op, routeID, nodeID string, err error) *RouteError {
	return &RouteError{Op: op, RouteID: routeID, NodeID: nodeID, Err: err}
}

// ConfigError reports a malformed graph.
type ConfigError struct {
	RouteID string
	NodeID  string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid graph %s at node %s: %v", e.RouteID, e.NodeID, e.Err)
	}

	return fmt.Sprintf("invalid graph %s: %v", e.RouteID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ConditionTypeError is returned when a transition condition does not
// evaluate to a boolean.
type ConditionTypeError struct {
	RouteID      string
	NodeID       string
	TransitionID string
	Condition    string
	Value        any
}

func (e *ConditionTypeError) Error() string {
	return fmt.Sprintf("condition of transition %s of node %s of graph %s does not evaluate to a boolean but %T: %s",
		e.TransitionID, e.NodeID, e.RouteID, e.Value, e.Condition)
}

// EvaluationError wraps a failure to evaluate an authored expression.
type EvaluationError struct {
	Kind       string // What was evaluated (e.g., "transition condition", "task due date")
	NodeID     string
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("error evaluating %s of node %s: %s: %v", e.Kind, e.NodeID, e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err denotes a malformed graph.
func IsConfigurationError(err error) bool {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return true
	}

	return errors.Is(err, ErrNoStartNode) ||
		errors.Is(err, ErrMultipleStartNodes) ||
		errors.Is(err, ErrNoStopNode) ||
		errors.Is(err, ErrDuplicateNodeID) ||
		errors.Is(err, ErrInvalidMergeMode) ||
		errors.Is(err, ErrNodeNotFound)
}

// IsEvaluationError reports whether err comes from evaluating an expression.
func IsEvaluationError(err error) bool {
	var (
		typeErr *ConditionTypeError
		evalErr *EvaluationError
	)

	return errors.As(err, &typeErr) || errors.As(err, &evalErr)
}

// ErrNoEngine is returned by node operations on a graph built without an engine.
var ErrNoEngine = errors.New("graph is not bound to an engine")
