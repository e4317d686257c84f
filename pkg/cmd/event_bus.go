package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/routing/pkg/channels/gochannel"
	"github.com/dukex/routing/pkg/channels/kafka"
	"github.com/dukex/routing/pkg/eventbus"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewEventBus creates the event bus of provider. Kafka consumers of the
// same serviceName share one consumer group. Subscribers are traced when a
// global tracer provider is installed.
func NewEventBus(logger *slog.Logger, provider, brokers, serviceName string) (*eventbus.WatermillEventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.Config{
			Brokers:       splitList(brokers),
			ConsumerGroup: serviceName,
			OTELEnabled:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger, gochannel.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedProvider, provider)
	}
}

func splitList(value string) []string {
	var out []string

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}

	return out
}
