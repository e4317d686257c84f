package services

import (
	"context"
	"time"

	"github.com/dukex/routing/pkg/metrics"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultModelCacheSize = 100
	DefaultModelCacheTTL  = 10 * time.Minute
)

// ModelResolver finds route models by id or name through a bounded cache
// whose entries expire. Concurrent misses for the same key share one
// lookup. Resolved models are shared and must not be modified.
type ModelResolver struct {
	routes  persistence.RouteRepository
	cache   *expirable.LRU[string, *models.GraphRoute]
	group   singleflight.Group
	metrics *metrics.Metrics
}

func NewModelResolver(routes persistence.RouteRepository, size int, ttl time.Duration, m *metrics.Metrics) *ModelResolver {
	if size <= 0 {
		size = DefaultModelCacheSize
	}

	if ttl <= 0 {
		ttl = DefaultModelCacheTTL
	}

	return &ModelResolver{
		routes:  routes,
		cache:   expirable.NewLRU[string, *models.GraphRoute](size, nil, ttl),
		metrics: m,
	}
}

func (r *ModelResolver) Resolve(ctx context.Context, idOrName string) (*models.GraphRoute, error) {
	if model, ok := r.cache.Get(idOrName); ok {
		r.metrics.ModelCacheLookup(true)

		return model, nil
	}

	r.metrics.ModelCacheLookup(false)

	value, err, _ := r.group.Do(idOrName, func() (any, error) {
		model, err := r.lookup(ctx, idOrName)
		if err != nil {
			return nil, err
		}

		r.cache.Add(idOrName, model)

		return model, nil
	})
	if err != nil {
		return nil, err
	}

	return value.(*models.GraphRoute), nil
}

// lookup tries idOrName as a model id first, then as a model name.
func (r *ModelResolver) lookup(ctx context.Context, idOrName string) (*models.GraphRoute, error) {
	route, err := r.routes.Get(ctx, idOrName)
	if err == nil && route.IsModel() {
		return route, nil
	}

	if err != nil && !persistence.IsRouteNotFound(err) {
		return nil, err
	}

	return r.routes.ModelByName(ctx, idOrName)
}

// Invalidate drops the cached entries of a model after it was replaced.
func (r *ModelResolver) Invalidate(model *models.GraphRoute) {
	r.cache.Remove(model.ID)
	r.cache.Remove(model.Name)
}
