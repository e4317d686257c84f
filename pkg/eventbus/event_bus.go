// Package eventbus publishes and consumes routing events over watermill.
package eventbus

import (
	"context"

	"github.com/dukex/routing/pkg/events"
)

// Event is any payload of the routing topic. Its type selects the handler
// on the consuming side.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is what the runner needs to announce route and task
// lifecycle changes. key orders events of one route on partitioned brokers.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber dispatches each event type to at most one handler. A
// handler error nacks the message so the broker redelivers it.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event as a pointer to its concrete type.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
