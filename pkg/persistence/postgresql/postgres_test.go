package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/dukex/routing/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"route_nodes", "routes", "tasks", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("routing_test"),
			postgres.WithUsername("routing"),
			postgres.WithPassword("routing"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func sampleRoute(id, modelID string, state models.RouteState) *models.GraphRoute {
	return &models.GraphRoute{
		ID:                  id,
		Name:                "approval",
		ModelID:             modelID,
		State:               state,
		Variables:           map[string]any{"amount": "250"},
		AttachedDocumentIDs: []string{"doc-1"},
		Nodes: []*models.GraphNode{
			{
				ID:    "start",
				Start: true,
				State: models.StateSuspended,
				OutputTransitions: []*models.Transition{
					{ID: "approve", Target: "end", Condition: `NodeVariables.button == "approve"`},
				},
				TasksInfo: []*models.TaskInfo{{TaskID: "task-1"}},
			},
			{ID: "end", Stop: true, State: models.StateReady},
		},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"routes", "route_nodes", "tasks", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestRouteRepository_SaveAndGet(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.RouteRepository()

	route := sampleRoute("", "model-1", models.RouteStateRunning)
	require.NoError(t, repo.Save(ctx, route))
	require.NotEmpty(t, route.ID)

	loaded, err := repo.Get(ctx, route.ID)
	require.NoError(t, err)

	assert.Equal(t, route.Name, loaded.Name)
	assert.Equal(t, models.RouteStateRunning, loaded.State)
	assert.Equal(t, []string{"doc-1"}, loaded.AttachedDocumentIDs)
	assert.Equal(t, "250", loaded.Variables["amount"])
	require.Len(t, loaded.Nodes, 2)
	assert.Equal(t, "start", loaded.Nodes[0].ID)
	assert.Equal(t, models.StateSuspended, loaded.Nodes[0].State)
	assert.Equal(t, "task-1", loaded.Nodes[0].TasksInfo[0].TaskID)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, persistence.IsRouteNotFound(err))
}

func TestRouteRepository_CommitIsAtomic(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.RouteRepository()

	first := sampleRoute("r-1", "model-1", models.RouteStateRunning)
	require.NoError(t, repo.Save(ctx, first))

	first.Variables["amount"] = "999"
	broken := sampleRoute("r-2", "model-1", models.RouteStateRunning)
	broken.Nodes[1].State = models.StateRunningInput

	err := repo.Commit(ctx, first, broken)
	require.Error(t, err)

	loaded, err := repo.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "250", loaded.Variables["amount"])

	_, err = repo.Get(ctx, "r-2")
	assert.True(t, persistence.IsRouteNotFound(err))
}

func TestRouteRepository_Queries(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.RouteRepository()

	model := sampleRoute("m-1", "", models.RouteStateValidated)
	running := sampleRoute("i-1", "m-1", models.RouteStateRunning)
	done := sampleRoute("i-2", "m-1", models.RouteStateDone)
	child := sampleRoute("i-3", "m-1", models.RouteStateRunning)
	child.ParentRouteID = "i-1"

	for _, route := range []*models.GraphRoute{model, running, done, child} {
		require.NoError(t, repo.Save(ctx, route))
	}

	found, err := repo.Models(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)

	byName, err := repo.ModelByName(ctx, "approval")
	require.NoError(t, err)
	assert.Equal(t, "m-1", byName.ID)

	_, err = repo.ModelByName(ctx, "other")
	assert.True(t, persistence.IsModelNotFound(err))

	children, err := repo.Children(ctx, "i-1")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "i-3", children[0].ID)

	runningRoutes, err := repo.Running(ctx)
	require.NoError(t, err)
	assert.Len(t, runningRoutes, 2)

	require.NoError(t, repo.Delete(ctx, "i-2"))

	_, err = repo.Get(ctx, "i-2")
	assert.True(t, persistence.IsRouteNotFound(err))
}

func TestTaskRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.TaskRepository()

	task := &models.Task{ID: "task-1", RouteID: "r-1", NodeID: "review", Actors: []string{"alice"}, Status: models.TaskStatusOpen}
	require.NoError(t, repo.Save(ctx, task))

	task.Status = models.TaskStatusEnded
	task.Outcome = "approve"
	require.NoError(t, repo.Save(ctx, task))

	loaded, err := repo.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusEnded, loaded.Status)
	assert.Equal(t, "approve", loaded.Outcome)

	tasks, err := repo.ByRoute(ctx, "r-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = repo.Get(ctx, "task-2")
	assert.True(t, persistence.IsTaskNotFound(err))
}
