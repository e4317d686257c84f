package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/routing/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ValidationResult carries the findings that do not prevent a route from
// running.
type ValidationResult struct {
	Warnings []string
}

// Validate checks that route is a well-formed graph. Every independent
// problem is reported in the returned error.
func Validate(route *models.GraphRoute) (*ValidationResult, error) {
	result := &ValidationResult{}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(route)
	if err != nil {
		return result, fmt.Errorf("invalid route %s: %w", route.ID, err)
	}

	g := NewGraph(route)

	err = g.init()
	if err != nil {
		return result, err
	}

	var errs []error

	hasStop := false

	for _, node := range g.ordered {
		if node.Stop {
			hasStop = true
		} else if len(node.OutputTransitions) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("node %s is not a stop node and has no output transition", node.ID))
		}

		switch node.Merge {
		case models.MergeModeNone, models.MergeModeOne, models.MergeModeAll:
		default:
			errs = append(errs, &ConfigError{
				RouteID: route.ID,
				NodeID:  node.ID,
				Err:     fmt.Errorf("%w: %q", ErrInvalidMergeMode, node.Merge),
			})
		}

		if node.HasMultipleTasks && len(node.GraphNode.TaskAssignees) == 0 && strings.TrimSpace(node.TaskAssigneesExpression) == "" {
			errs = append(errs, &ConfigError{RouteID: route.ID, NodeID: node.ID, Err: ErrNoTaskAssignees})
		}

		seen := make(map[string]bool, len(node.OutputTransitions))
		for _, t := range node.OutputTransitions {
			if seen[t.ID] {
				result.Warnings = append(result.Warnings, fmt.Sprintf("node %s has several transitions with id %s", node.ID, t.ID))
			}

			seen[t.ID] = true
		}
	}

	if !hasStop {
		errs = append(errs, &ConfigError{RouteID: route.ID, Err: ErrNoStopNode})
	}

	unreachable, err := g.Unreachable()
	if err != nil {
		return result, err
	}

	for _, node := range unreachable {
		result.Warnings = append(result.Warnings, fmt.Sprintf("node %s is unreachable from the start node", node.ID))
	}

	return result, errors.Join(errs...)
}
