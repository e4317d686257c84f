package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/routing/pkg/channels/gochannel"
	"github.com/dukex/routing/pkg/eventbus"
	"github.com/dukex/routing/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.Config{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(logger, pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	received := make(chan *events.TaskEnded, 1)

	require.NoError(t, bus.Handle(events.TaskEndedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.TaskEnded)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "route-1", events.TaskEnded{
		BaseEvent: events.NewBaseEvent(events.TaskEndedEvent, "route-1"),
		NodeID:    "review",
		TaskID:    "task-1",
		Actor:     "alice",
		Status:    "approve",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "route-1", event.RouteID)
		assert.Equal(t, "task-1", event.TaskID)
		assert.Equal(t, "approve", event.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	done := make(chan struct{}, 1)

	require.NoError(t, bus.Handle(events.RouteDoneEvent, func(_ context.Context, _ any) error {
		done <- struct{}{}

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "route-2", events.RouteStarted{
		BaseEvent: events.NewBaseEvent(events.RouteStartedEvent, "route-2"),
	}))
	require.NoError(t, bus.Publish(ctx, "route-2", events.RouteDone{
		BaseEvent: events.NewBaseEvent(events.RouteDoneEvent, "route-2"),
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("route.done was not delivered after an unhandled event")
	}
}

func TestWatermillEventBus_HandlerErrorNacks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	attempts := make(chan struct{}, 10)

	require.NoError(t, bus.Handle(events.TaskCanceledEvent, func(_ context.Context, _ any) error {
		select {
		case attempts <- struct{}{}:
		default:
		}

		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "route-3", events.TaskCanceled{
		BaseEvent: events.NewBaseEvent(events.TaskCanceledEvent, "route-3"),
		TaskID:    "task-3",
	}))

	select {
	case <-attempts:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
}
