package mocks

import (
	"context"

	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/tasks"
	"github.com/stretchr/testify/mock"
)

// MockTaskService is a mock implementation of tasks.TaskService interface.
type MockTaskService struct {
	mock.Mock
}

func (m *MockTaskService) CreateTask(ctx context.Context, req tasks.CreateTaskRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

func (m *MockTaskService) EndTask(ctx context.Context, taskID, actor, comment, status string) error {
	args := m.Called(ctx, taskID, actor, comment, status)

	return args.Error(0)
}

func (m *MockTaskService) CancelTask(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)

	return args.Error(0)
}

func (m *MockTaskService) ReassignTask(ctx context.Context, taskID string, actors []string, comment string) error {
	args := m.Called(ctx, taskID, actors, comment)

	return args.Error(0)
}

func (m *MockTaskService) DelegateTask(ctx context.Context, taskID string, delegates []string, comment string) error {
	args := m.Called(ctx, taskID, delegates, comment)

	return args.Error(0)
}

func (m *MockTaskService) Get(ctx context.Context, taskID string) (*models.Task, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *MockTaskService) OpenTasks(ctx context.Context, routeID string) ([]*models.Task, error) {
	args := m.Called(ctx, routeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Task), args.Error(1)
}
