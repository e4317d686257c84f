package work

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLocalCapacity = 1024

// LocalScheduler keeps units in memory. It serves a single process and
// loses queued units on exit.
type LocalScheduler struct {
	mu     sync.Mutex
	keys   map[string]bool
	queue  chan Unit
	logger *slog.Logger
	now    func() time.Time
}

// NewLocalScheduler creates a scheduler holding at most capacity queued units.
func NewLocalScheduler(logger *slog.Logger, capacity int) *LocalScheduler {
	if capacity <= 0 {
		capacity = defaultLocalCapacity
	}

	return &LocalScheduler{
		keys:   make(map[string]bool),
		queue:  make(chan Unit, capacity),
		logger: logger.With("module", "work", "backend", "memory"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *LocalScheduler) ScheduleOnce(ctx context.Context, unit Unit, key string) (bool, error) {
	unit, err := prepare(unit, key, s.now)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[key] {
		s.logger.DebugContext(ctx, "Work unit already scheduled", "key", key)

		return false, nil
	}

	select {
	case s.queue <- unit:
	default:
		return false, fmt.Errorf("%w: %s", ErrQueueFull, key)
	}

	s.keys[key] = true
	s.logger.DebugContext(ctx, "Work unit scheduled", "unit_id", unit.ID, "key", key)

	return true, nil
}

// Consume handles queued units one at a time until ctx is done.
func (s *LocalScheduler) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case unit := <-s.queue:
			err := handle(ctx, s.logger, handler, unit)
			if err != nil {
				s.logger.ErrorContext(ctx, "Work unit failed", "unit_id", unit.ID, "key", unit.Key, "error", err)
			}

			s.release(unit.Key)
		}
	}
}

// Pending returns the number of queued units.
func (s *LocalScheduler) Pending() int {
	return len(s.queue)
}

func (s *LocalScheduler) Close() error {
	return nil
}

func (s *LocalScheduler) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, key)
}

func prepare(unit Unit, key string, now func() time.Time) (Unit, error) {
	if key == "" {
		return unit, ErrNoKey
	}

	if unit.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return unit, fmt.Errorf("failed to generate work unit ID: %w", err)
		}

		unit.ID = id.String()
	}

	if unit.ScheduledAt.IsZero() {
		unit.ScheduledAt = now()
	}

	unit.Key = key

	return unit, nil
}
