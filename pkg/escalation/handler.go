package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/routing/pkg/work"
)

// ErrInvalidUnit is returned for a unit missing the route, node or rule id.
var ErrInvalidUnit = errors.New("invalid escalation work unit")

// RuleExecutor runs an escalation rule if it is still pending on a
// suspended node of a running route, and reports whether it ran.
type RuleExecutor interface {
	ExecuteEscalationRule(ctx context.Context, routeID, nodeID, ruleID string) (bool, error)
}

// Handler executes the escalation units scheduled by the Poller.
type Handler struct {
	executor RuleExecutor
	logger   *slog.Logger
}

func NewHandler(logger *slog.Logger, executor RuleExecutor) *Handler {
	return &Handler{
		executor: executor,
		logger:   logger.With("module", "escalation_handler"),
	}
}

func (h *Handler) Handle(ctx context.Context, unit work.Unit) error {
	routeID := unit.Payload[payloadRouteID]
	nodeID := unit.Payload[payloadNodeID]
	ruleID := unit.Payload[payloadRuleID]

	if routeID == "" || nodeID == "" || ruleID == "" {
		return fmt.Errorf("%w: %s", ErrInvalidUnit, unit.ID)
	}

	executed, err := h.executor.ExecuteEscalationRule(ctx, routeID, nodeID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to execute escalation rule %s: %w", ruleID, err)
	}

	if !executed {
		// the node moved on or the rule already ran since the poll
		h.logger.InfoContext(ctx, "Escalation rule no longer applies",
			"route_id", routeID, "node_id", nodeID, "rule_id", ruleID)

		return nil
	}

	h.logger.InfoContext(ctx, "Escalation rule executed",
		"route_id", routeID, "node_id", nodeID, "rule_id", ruleID)

	return nil
}
