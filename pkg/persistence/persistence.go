// Package persistence provides the storage abstraction for routes and tasks.
package persistence

import (
	"context"

	"github.com/dukex/routing/pkg/models"
)

type Persistence interface {
	RouteRepository() RouteRepository
	TaskRepository() TaskRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// RouteRepository stores route models and instances. Nodes are children of
// their route and are always loaded and written together with it.
type RouteRepository interface {
	// Get returns ErrRouteNotFound when no route has the id.
	Get(ctx context.Context, id string) (*models.GraphRoute, error)
	// Save creates or replaces a route, assigning an id when it has none.
	Save(ctx context.Context, route *models.GraphRoute) error
	// Commit writes every route atomically: either all of them are
	// stored or none is.
	Commit(ctx context.Context, routes ...*models.GraphRoute) error
	Delete(ctx context.Context, id string) error

	Models(ctx context.Context) ([]*models.GraphRoute, error)
	// ModelByName returns ErrModelNotFound when no model has the name.
	ModelByName(ctx context.Context, name string) (*models.GraphRoute, error)
	Children(ctx context.Context, parentRouteID string) ([]*models.GraphRoute, error)
	// Running returns every instance in the running state.
	Running(ctx context.Context) ([]*models.GraphRoute, error)
}

type TaskRepository interface {
	// Get returns ErrTaskNotFound when no task has the id.
	Get(ctx context.Context, id string) (*models.Task, error)
	Save(ctx context.Context, task *models.Task) error
	ByRoute(ctx context.Context, routeID string) ([]*models.Task, error)
}
