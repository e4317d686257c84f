package routing_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/routing/pkg/chain"
	"github.com/dukex/routing/pkg/expression"
	"github.com/dukex/routing/pkg/metrics"
	"github.com/dukex/routing/pkg/mocks"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/dukex/routing/pkg/persistence/file"
	"github.com/dukex/routing/pkg/routing"
	"github.com/dukex/routing/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)

type fixture struct {
	engine  *routing.Engine
	runner  *routing.Runner
	routes  persistence.RouteRepository
	tasks   *tasks.Service
	chains  *chain.Registry
	bus     *mocks.MockEventBus
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func setVar(scope, name string, value any) chain.Func {
	return func(_ context.Context, c *chain.Context) error {
		if scope == chain.ScopeNode {
			c.NodeVariables[name] = value
		} else {
			c.WorkflowVariables[name] = value
		}

		return nil
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	evaluator, err := expression.NewCEL(logger, 0)
	require.NoError(t, err)

	store := file.NewPersistence(t.TempDir())

	chains := chain.NewRegistry(logger)
	chains.Register("title1", setVar(chain.ScopeWorkflow, "title", "title 1"))
	chains.Register("descr1", setVar(chain.ScopeWorkflow, "descr", "descr 1"))
	chains.Register("descr2", setVar(chain.ScopeWorkflow, "descr", "descr 2"))
	chains.Register("rights1", setVar(chain.ScopeWorkflow, "rights", "rights 1"))
	chains.Register("counter", chain.Func(func(_ context.Context, c *chain.Context) error {
		count, _ := c.WorkflowVariables["count"].(float64)
		c.WorkflowVariables["count"] = count + 1

		return nil
	}))

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	taskService := tasks.NewService(logger, store.TaskRepository(), nil)

	engine := routing.NewEngine(logger, evaluator, chains, taskService,
		routing.WithClock(func() time.Time { return testNow }),
		routing.WithMetrics(m),
	)

	return &fixture{
		engine:  engine,
		runner:  routing.NewRunner(engine, store.RouteRepository(), routing.WithEventPublisher(bus)),
		routes:  store.RouteRepository(),
		tasks:   taskService,
		chains:  chains,
		bus:     bus,
		metrics: m,
		reg:     reg,
	}
}

// saveModel stores a validated model.
func (f *fixture) saveModel(t *testing.T, model *models.GraphRoute) {
	t.Helper()

	model.State = models.RouteStateValidated
	require.NoError(t, f.routes.Save(context.Background(), model))
}

// instantiateAndRun creates an instance of model and starts it.
func (f *fixture) instantiateAndRun(t *testing.T, model *models.GraphRoute, vars map[string]any) *models.GraphRoute {
	t.Helper()

	ctx := context.Background()
	f.saveModel(t, model)

	instance, err := f.runner.CreateInstance(ctx, model.ID, []string{"doc-1"}, "initiator")
	require.NoError(t, err)

	route, err := f.runner.Start(ctx, instance.ID, vars)
	require.NoError(t, err)

	return route
}

func (f *fixture) reload(t *testing.T, routeID string) *routing.Graph {
	t.Helper()

	route, err := f.routes.Get(context.Background(), routeID)
	require.NoError(t, err)

	return f.engine.NewGraph(route)
}

func (f *fixture) node(t *testing.T, routeID, nodeID string) *routing.Node {
	t.Helper()

	node, err := f.reload(t, routeID).Node(nodeID)
	require.NoError(t, err)

	return node
}

func (f *fixture) openTasks(t *testing.T, routeID string) []*models.Task {
	t.Helper()

	open, err := f.tasks.OpenTasks(context.Background(), routeID)
	require.NoError(t, err)

	return open
}

// endTask closes task the way an actor would and resumes its node.
func (f *fixture) endTask(t *testing.T, task *models.Task, actor, status string) (*models.GraphRoute, error) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, f.tasks.EndTask(ctx, task.ID, actor, "", status))

	return f.runner.Resume(ctx, task.RouteID, task.NodeID, routing.ResumeData{
		TaskID: task.ID,
		Actor:  actor,
		Status: status,
	})
}
