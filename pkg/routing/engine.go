// Package routing executes document routing graphs: nodes connected by
// conditional transitions, with merges, loops, human tasks, sub-routes and
// escalation rules.
package routing

import (
	"log/slog"
	"time"

	"github.com/dukex/routing/pkg/chain"
	"github.com/dukex/routing/pkg/expression"
	"github.com/dukex/routing/pkg/metrics"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/tasks"
)

// Engine holds the collaborators node operations need: the expression
// evaluator, the chain runner and the task service.
type Engine struct {
	logger    *slog.Logger
	evaluator expression.Evaluator
	chains    chain.Runner
	tasks     tasks.TaskService
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Engine)

// WithClock replaces the clock used to stamp node and route times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func NewEngine(
	logger *slog.Logger,
	evaluator expression.Evaluator,
	chains chain.Runner,
	taskService tasks.TaskService,
	opts ...Option,
) *Engine {
	e := &Engine{
		logger:    logger.With("module", "routing"),
		evaluator: evaluator,
		chains:    chains,
		tasks:     taskService,
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewGraph wraps route in a graph bound to the engine, so its nodes can
// evaluate expressions, run chains and manage tasks.
func (e *Engine) NewGraph(route *models.GraphRoute) *Graph {
	g := NewGraph(route)
	g.engine = e

	return g
}
