// Package escalation finds suspended nodes whose escalation rules are due
// and schedules their execution as background work.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/routing/pkg/metrics"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/dukex/routing/pkg/routing"
	"github.com/dukex/routing/pkg/work"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "@every 1m"

	payloadRouteID = "route_id"
	payloadNodeID  = "node_id"
	payloadRuleID  = "rule_id"
)

// Key is the deduplication key of the unit executing ruleID on nodeID of
// routeID. Node ids are only unique within a route.
func Key(routeID, nodeID, ruleID string) string {
	return "escalation:" + routeID + ":" + nodeID + ":" + ruleID
}

// Poller evaluates the escalation rules of suspended nodes and schedules
// the ready ones.
type Poller struct {
	engine    *routing.Engine
	routes    persistence.RouteRepository
	scheduler work.Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

type PollerOption func(*Poller)

func WithMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

func NewPoller(
	logger *slog.Logger,
	engine *routing.Engine,
	routes persistence.RouteRepository,
	scheduler work.Scheduler,
	opts ...PollerOption,
) *Poller {
	p := &Poller{
		engine:    engine,
		routes:    routes,
		scheduler: scheduler,
		logger:    logger.With("module", "escalation_poller"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Poll schedules every ready rule once and returns how many units were
// queued. A node whose rules fail to evaluate is logged and skipped.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	candidates, err := p.engine.QueryForSuspendedNodesWithEscalation(ctx, p.routes)
	if err != nil {
		return 0, fmt.Errorf("failed to query suspended nodes: %w", err)
	}

	scheduled := 0

	var errs []error

	for _, candidate := range candidates {
		routeID := candidate.Graph.ID()
		nodeID := candidate.Node.ID

		rules, err := candidate.Node.EvaluateEscalationRules(ctx)
		if err != nil {
			p.logger.WarnContext(ctx, "Failed to evaluate escalation rules",
				"route_id", routeID, "node_id", nodeID, "error", err)

			continue
		}

		for _, rule := range rules {
			unit := work.Unit{
				Kind: work.KindEscalation,
				Payload: map[string]string{
					payloadRouteID: routeID,
					payloadNodeID:  nodeID,
					payloadRuleID:  rule.ID,
				},
			}

			queued, err := p.scheduler.ScheduleOnce(ctx, unit, Key(routeID, nodeID, rule.ID))
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to schedule rule %s of node %s of route %s: %w", rule.ID, nodeID, routeID, err))

				continue
			}

			if !queued {
				continue
			}

			scheduled++

			p.metrics.EscalationScheduled()
			p.logger.InfoContext(ctx, "Escalation rule scheduled",
				"route_id", routeID, "node_id", nodeID, "rule_id", rule.ID)
		}
	}

	return scheduled, errors.Join(errs...)
}

// Start polls on schedule (a cron spec such as "@every 1m") until Stop.
// A poll still running when the next one is due is skipped.
func (p *Poller) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn))

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	_, err := c.AddFunc(schedule, func() { p.run(ctx) })
	if err != nil {
		return fmt.Errorf("invalid escalation schedule %q: %w", schedule, err)
	}

	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "Starting escalation poller", "schedule", schedule)
	c.Start()

	return nil
}

func (p *Poller) run(ctx context.Context) {
	scheduled, err := p.Poll(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Escalation poll failed", "error", err)
	}

	p.logger.DebugContext(ctx, "Escalation poll done", "scheduled", scheduled)
}

// Stop stops the schedule and waits for a running poll to finish.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.cron
	p.mu.Unlock()

	if c == nil {
		return
	}

	p.logger.InfoContext(ctx, "Stopping escalation poller")

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
