// Package work schedules deduplicated units of background work and hands
// them to handlers.
package work

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind tells handlers what a unit is about.
type Kind string

const (
	KindEscalation Kind = "escalation"
)

var (
	// ErrQueueFull is returned when the in-process queue cannot take a unit.
	ErrQueueFull = errors.New("work queue is full")
	// ErrNoHandler is returned when a unit has a kind no handler serves.
	ErrNoHandler = errors.New("no handler for work kind")
	// ErrNoKey is returned when a unit is scheduled without a deduplication key.
	ErrNoKey = errors.New("work unit key is required")
)

// Unit is one piece of work. Key is the deduplication key it was
// scheduled under.
type Unit struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	Key         string            `json:"key"`
	Payload     map[string]string `json:"payload,omitempty"`
	ScheduledAt time.Time         `json:"scheduled_at"`
}

// Scheduler queues units, at most one per key until that unit is handled.
type Scheduler interface {
	// ScheduleOnce queues unit unless a unit with key is already queued or
	// running. It reports whether unit was queued.
	ScheduleOnce(ctx context.Context, unit Unit, key string) (bool, error)
}

// Handler processes a unit.
type Handler interface {
	Handle(ctx context.Context, unit Unit) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, unit Unit) error

func (f HandlerFunc) Handle(ctx context.Context, unit Unit) error {
	return f(ctx, unit)
}

// Consumer feeds queued units to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Queue is a scheduler whose units are consumed from the same backend.
type Queue interface {
	Scheduler
	Consumer
	Close() error
}

// Mux dispatches units to the handler registered for their kind.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[Kind]Handler)}
}

func (m *Mux) Register(kind Kind, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[kind] = handler
}

func (m *Mux) Handle(ctx context.Context, unit Unit) error {
	m.mu.RLock()
	handler, ok := m.handlers[unit.Kind]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, unit.Kind)
	}

	return handler.Handle(ctx, unit)
}

// handle runs handler on unit, turning panics into errors so one bad unit
// does not stop the consumer.
func handle(ctx context.Context, logger *slog.Logger, handler Handler, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling work unit %s: %v", unit.ID, r)
		}
	}()

	logger.DebugContext(ctx, "Handling work unit", "unit_id", unit.ID, "kind", unit.Kind, "key", unit.Key)

	return handler.Handle(ctx, unit)
}
