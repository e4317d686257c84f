// Package models defines the entities of a document routing graph.
package models

import "time"

// RouteState represents the lifecycle state of a route.
type RouteState string

const (
	RouteStateDraft     RouteState = "draft"     // Being authored or prepared
	RouteStateValidated RouteState = "validated" // Model ready to be instantiated
	RouteStateReady     RouteState = "ready"     // Instance prepared, not started
	RouteStateRunning   RouteState = "running"   // Instance advancing
	RouteStateDone      RouteState = "done"      // Instance reached a stop node
	RouteStateCanceled  RouteState = "canceled"  // Instance aborted
)

var routeTransitions = map[RouteState][]RouteState{
	RouteStateDraft:     {RouteStateValidated, RouteStateReady, RouteStateCanceled},
	RouteStateValidated: {RouteStateDraft},
	RouteStateReady:     {RouteStateRunning, RouteStateCanceled},
	RouteStateRunning:   {RouteStateDone, RouteStateCanceled},
}

// IsTerminal reports whether no transition leaves the state.
func (s RouteState) IsTerminal() bool {
	return s == RouteStateDone || s == RouteStateCanceled
}

// CanTransitionTo reports whether a route in state s may move to target.
func (s RouteState) CanTransitionTo(target RouteState) bool {
	for _, allowed := range routeTransitions[s] {
		if allowed == target {
			return true
		}
	}

	return false
}

// GraphRoute is a workflow model or a workflow instance created from one.
type GraphRoute struct {
	ID                  string         `json:"id"                        yaml:"id"                        validate:"required"`
	Name                string         `json:"name"                      yaml:"name"                      validate:"required,min=1"`
	Description         string         `json:"description,omitempty"     yaml:"description,omitempty"`
	ModelID             string         `json:"model_id,omitempty"        yaml:"model_id,omitempty"` // Empty for a model
	State               RouteState     `json:"state"                     yaml:"state"                     validate:"required,oneof=draft validated ready running done canceled"`
	Variables           map[string]any `json:"variables,omitempty"       yaml:"variables,omitempty"`
	AttachedDocumentIDs []string       `json:"attached_document_ids"     yaml:"attached_document_ids"`
	Nodes               []*GraphNode   `json:"nodes"                     yaml:"nodes"                     validate:"required,min=1,dive"`
	ParentRouteID       string         `json:"parent_route_id,omitempty" yaml:"parent_route_id,omitempty"`
	ParentNodeID        string         `json:"parent_node_id,omitempty"  yaml:"parent_node_id,omitempty"`
	Initiator           string         `json:"initiator,omitempty"       yaml:"initiator,omitempty"`
	StartTime           *time.Time     `json:"start_time,omitempty"      yaml:"start_time,omitempty"`
	CreatedAt           time.Time      `json:"created_at"                yaml:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"                yaml:"updated_at"`
}

// IsModel reports whether the route is a model rather than an instance.
func (r *GraphRoute) IsModel() bool {
	return r.ModelID == ""
}

// IsSubRoute reports whether the route was started by a node of another route.
func (r *GraphRoute) IsSubRoute() bool {
	return r.ParentRouteID != ""
}
