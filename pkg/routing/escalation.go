package routing

import (
	"context"
	"fmt"

	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
)

// SuspendedNode is a suspended node with escalation rules still pending.
type SuspendedNode struct {
	Graph *Graph
	Node  *Node
}

// QueryForSuspendedNodesWithEscalation lists the suspended nodes of running
// routes that carry at least one rule which may still fire.
func (e *Engine) QueryForSuspendedNodesWithEscalation(ctx context.Context, routes persistence.RouteRepository) ([]SuspendedNode, error) {
	running, err := routes.Running(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query running routes: %w", err)
	}

	var out []SuspendedNode

	for _, route := range running {
		g := e.NewGraph(route)

		suspended, err := g.SuspendedNodes()
		if err != nil {
			e.logger.WarnContext(ctx, "Skipping invalid route", "route_id", route.ID, "error", err)

			continue
		}

		for _, node := range suspended {
			if hasPendingRule(node.EscalationRules) {
				out = append(out, SuspendedNode{Graph: g, Node: node})
			}
		}
	}

	return out, nil
}

func hasPendingRule(rules []*models.EscalationRule) bool {
	for _, rule := range rules {
		if rule.Pending() {
			return true
		}
	}

	return false
}
