package mocks

import (
	"context"

	"github.com/dukex/routing/pkg/work"
	"github.com/stretchr/testify/mock"
)

// MockScheduler is a mock implementation of work.Scheduler interface.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) ScheduleOnce(ctx context.Context, unit work.Unit, key string) (bool, error) {
	args := m.Called(ctx, unit, key)

	return args.Bool(0), args.Error(1)
}
