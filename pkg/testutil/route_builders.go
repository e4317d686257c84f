// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"

	"github.com/dukex/routing/pkg/models"
)

// CreateTestRoute creates a validated route model holding nodes.
func CreateTestRoute(id string, nodes ...*models.GraphNode) *models.GraphRoute {
	return &models.GraphRoute{
		ID:        id,
		Name:      id,
		State:     models.RouteStateValidated,
		Variables: map[string]any{},
		Nodes:     nodes,
	}
}

// CreateTestNode creates a ready node that can be customized by overrides.
func CreateTestNode(id string, overrides ...func(*models.GraphNode)) *models.GraphNode {
	node := &models.GraphNode{
		ID:        id,
		Title:     id,
		State:     models.StateReady,
		Variables: map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithStart marks the node as the start node.
func WithStart() func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Start = true
	}
}

// WithStop marks the node as a stop node.
func WithStop() func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Stop = true
	}
}

// WithMerge sets the merge mode of the node.
func WithMerge(mode models.MergeMode) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Merge = mode
	}
}

// WithExclusive makes the node follow only its first true transition.
func WithExclusive() func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.ExecuteOnlyFirstTransition = true
	}
}

// WithTransition appends an output transition. Its id is "<source>-<target>"
// unless another transition already uses it.
func WithTransition(target, condition string) func(*models.GraphNode) {
	return WithChainTransition(target, condition, "")
}

// WithChainTransition appends an output transition running chainID when it fires.
func WithChainTransition(target, condition, chainID string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		id := n.ID + "-" + target
		for _, t := range n.OutputTransitions {
			if t.ID == id {
				id = fmt.Sprintf("%s-%d", id, len(n.OutputTransitions))
			}
		}

		n.OutputTransitions = append(n.OutputTransitions, &models.Transition{
			ID:        id,
			Target:    target,
			Condition: condition,
			Chain:     chainID,
		})
	}
}

// WithInputChain sets the chain run when the node is entered.
func WithInputChain(chainID string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.InputChain = chainID
	}
}

// WithOutputChain sets the chain run when the node is left.
func WithOutputChain(chainID string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.OutputChain = chainID
	}
}

// WithTask makes the node suspend on a task for assignees.
func WithTask(assignees ...string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.HasTask = true
		n.TaskAssignees = assignees
	}
}

// WithMultipleTasks makes the node create one task per assignee.
func WithMultipleTasks(assignees ...string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.HasMultipleTasks = true
		n.TaskAssignees = assignees
	}
}

// WithTaskButtons sets the buttons offered by the node tasks.
func WithTaskButtons(names ...string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		for _, name := range names {
			n.TaskButtons = append(n.TaskButtons, models.Button{Name: name, Label: name})
		}
	}
}

// WithSubRoute makes the node start a sub-route of model.
func WithSubRoute(model string, vars ...models.KeyValue) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.SubRouteModelExpression = model
		n.SubRouteVariables = vars
	}
}

// WithEscalationRule appends an escalation rule.
func WithEscalationRule(id, condition, chainID string, multiple bool) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.EscalationRules = append(n.EscalationRules, &models.EscalationRule{
			ID:                id,
			Condition:         condition,
			Chain:             chainID,
			MultipleExecution: multiple,
		})
	}
}

// WithVariables sets the node variables.
func WithVariables(vars map[string]any) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Variables = vars
	}
}
