package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/routing/pkg/chain"
	"github.com/dukex/routing/pkg/eventbus"
	"github.com/dukex/routing/pkg/expression"
	"github.com/dukex/routing/pkg/metrics"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/dukex/routing/pkg/routing"
	"github.com/dukex/routing/pkg/services"
	"github.com/dukex/routing/pkg/tasks"
	"go.opentelemetry.io/otel/trace"
)

// RoutingConfig selects the optional parts of the routing stack.
type RoutingConfig struct {
	ChainsPath     string
	ModelCacheSize int
	ModelCacheTTL  time.Duration
	Publisher      eventbus.EventPublisher
	Tracer         trace.Tracer
	Metrics        *metrics.Metrics
}

// RoutingStack holds the engine components built over one store.
type RoutingStack struct {
	Engine  *routing.Engine
	Runner  *routing.Runner
	Tasks   *tasks.Service
	Models  *services.ModelResolver
	Service *services.Routing
}

func NewRoutingStack(logger *slog.Logger, store persistence.Persistence, cfg RoutingConfig) (*RoutingStack, error) {
	evaluator, err := expression.NewCEL(logger, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression evaluator: %w", err)
	}

	chains := chain.NewRegistry(logger)

	loaded, err := chains.LoadDir(cfg.ChainsPath, evaluator)
	if err != nil {
		return nil, fmt.Errorf("failed to load chains: %w", err)
	}

	if loaded > 0 {
		logger.Info("Loaded chain definitions", "path", cfg.ChainsPath, "count", loaded)
	}

	taskService := tasks.NewService(logger, store.TaskRepository(), cfg.Publisher)
	resolver := services.NewModelResolver(store.RouteRepository(), cfg.ModelCacheSize, cfg.ModelCacheTTL, cfg.Metrics)

	engine := routing.NewEngine(logger, evaluator, chains, taskService, routing.WithMetrics(cfg.Metrics))

	runnerOpts := []routing.RunnerOption{routing.WithModelResolver(resolver)}
	if cfg.Publisher != nil {
		runnerOpts = append(runnerOpts, routing.WithEventPublisher(cfg.Publisher))
	}

	if cfg.Tracer != nil {
		runnerOpts = append(runnerOpts, routing.WithTracer(cfg.Tracer))
	}

	runner := routing.NewRunner(engine, store.RouteRepository(), runnerOpts...)

	return &RoutingStack{
		Engine:  engine,
		Runner:  runner,
		Tasks:   taskService,
		Models:  resolver,
		Service: services.NewRouting(logger, runner, store.RouteRepository(), taskService, resolver),
	}, nil
}
