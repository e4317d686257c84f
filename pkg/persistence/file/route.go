package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/google/uuid"
)

// RouteRepository stores one JSON document per route, nodes included.
type RouteRepository struct {
	store *Persistence
}

// Get retrieves a route by its ID from the file system.
func (rr *RouteRepository) Get(_ context.Context, id string) (*models.GraphRoute, error) {
	rr.store.mu.RLock()
	defer rr.store.mu.RUnlock()

	var route models.GraphRoute

	err := rr.store.read(routesDir, id, &route)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewRouteError("Get", id, persistence.ErrRouteNotFound)
		}

		return nil, persistence.NewRouteError("Get", id, err)
	}

	return &route, nil
}

// Save creates or replaces a route.
func (rr *RouteRepository) Save(ctx context.Context, route *models.GraphRoute) error {
	if route.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate route ID: %w", err)
		}

		route.ID = id.String()
	}

	return rr.Commit(ctx, route)
}

// Commit writes all routes or none of them.
func (rr *RouteRepository) Commit(_ context.Context, routes ...*models.GraphRoute) error {
	if len(routes) == 0 {
		return nil
	}

	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	now := time.Now().UTC()
	docs := make(map[string]any, len(routes))

	for _, route := range routes {
		if route.CreatedAt.IsZero() {
			route.CreatedAt = now
		}

		route.UpdatedAt = now
		docs[route.ID] = route
	}

	err := rr.store.writeAll(routesDir, docs)
	if err != nil {
		return persistence.NewRouteError("Commit", routes[0].ID, err)
	}

	return nil
}

// Delete removes a route by its ID.
func (rr *RouteRepository) Delete(_ context.Context, id string) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	return rr.store.remove(routesDir, id)
}

func (rr *RouteRepository) all(filter func(*models.GraphRoute) bool) ([]*models.GraphRoute, error) {
	rr.store.mu.RLock()
	defer rr.store.mu.RUnlock()

	routes := make([]*models.GraphRoute, 0)

	err := rr.store.readAll(routesDir, func(body []byte) error {
		var route models.GraphRoute

		err := json.Unmarshal(body, &route)
		if err != nil {
			return err
		}

		if filter(&route) {
			routes = append(routes, &route)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(routes, func(i, j int) bool {
		return routes[i].CreatedAt.Before(routes[j].CreatedAt)
	})

	return routes, nil
}

// Models returns every route model.
func (rr *RouteRepository) Models(_ context.Context) ([]*models.GraphRoute, error) {
	return rr.all(func(route *models.GraphRoute) bool {
		return route.IsModel()
	})
}

// ModelByName returns the most recently created model named name.
func (rr *RouteRepository) ModelByName(_ context.Context, name string) (*models.GraphRoute, error) {
	matches, err := rr.all(func(route *models.GraphRoute) bool {
		return route.IsModel() && route.Name == name
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", persistence.ErrModelNotFound, name)
	}

	return matches[len(matches)-1], nil
}

// Children returns the sub-routes started by nodes of parentRouteID.
func (rr *RouteRepository) Children(_ context.Context, parentRouteID string) ([]*models.GraphRoute, error) {
	return rr.all(func(route *models.GraphRoute) bool {
		return route.ParentRouteID == parentRouteID
	})
}

// Running returns every instance currently running.
func (rr *RouteRepository) Running(_ context.Context) ([]*models.GraphRoute, error) {
	return rr.all(func(route *models.GraphRoute) bool {
		return !route.IsModel() && route.State == models.RouteStateRunning
	})
}
