package mocks

import (
	"context"

	"github.com/dukex/routing/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockRouteRepository is a mock implementation of persistence.RouteRepository interface.
type MockRouteRepository struct {
	mock.Mock
}

func (m *MockRouteRepository) Get(ctx context.Context, id string) (*models.GraphRoute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.GraphRoute), args.Error(1)
}

func (m *MockRouteRepository) Save(ctx context.Context, route *models.GraphRoute) error {
	args := m.Called(ctx, route)

	return args.Error(0)
}

func (m *MockRouteRepository) Commit(ctx context.Context, routes ...*models.GraphRoute) error {
	args := m.Called(ctx, routes)

	return args.Error(0)
}

func (m *MockRouteRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockRouteRepository) Models(ctx context.Context) ([]*models.GraphRoute, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.GraphRoute), args.Error(1)
}

func (m *MockRouteRepository) ModelByName(ctx context.Context, name string) (*models.GraphRoute, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.GraphRoute), args.Error(1)
}

func (m *MockRouteRepository) Children(ctx context.Context, parentRouteID string) ([]*models.GraphRoute, error) {
	args := m.Called(ctx, parentRouteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.GraphRoute), args.Error(1)
}

func (m *MockRouteRepository) Running(ctx context.Context) ([]*models.GraphRoute, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.GraphRoute), args.Error(1)
}
