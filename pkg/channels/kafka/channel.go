// Package kafka creates watermill publishers and subscribers backed by Kafka.
package kafka

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

const publishRetries = 5

// ErrNoBrokers is returned when no Kafka broker address is configured.
var ErrNoBrokers = errors.New("no kafka brokers configured")

type Config struct {
	Brokers []string
	// Processes sharing a consumer group split the routing topic between
	// them, so each event is handled once per group.
	ConsumerGroup string
	// FromNewest makes a new consumer group skip events published before
	// it first joined.
	FromNewest  bool
	OTELEnabled bool
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 || c.Brokers[0] == "" {
		return ErrNoBrokers
	}

	return nil
}

func (c Config) consumerGroup() string {
	if c.ConsumerGroup == "" {
		return "routing"
	}

	return "routing-" + c.ConsumerGroup
}

// SubscriberSaramaConfig is the sarama configuration used by routing consumers.
func SubscriberSaramaConfig(cfg Config) *sarama.Config {
	config := kafka.DefaultSaramaSubscriberConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	if cfg.FromNewest {
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	return config
}

// PublisherSaramaConfig waits for every in-sync replica, since a lost
// task.ended event leaves a node suspended.
func PublisherSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = publishRetries

	return config
}

func CreateChannel(logger watermill.LoggerAdapter, cfg Config) (*kafka.Publisher, *kafka.Subscriber, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: SubscriberSaramaConfig(cfg),
			ConsumerGroup:         cfg.consumerGroup(),
			OTELEnabled:           cfg.OTELEnabled,
		},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka subscriber for group %s: %w", cfg.consumerGroup(), err)
	}

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: PublisherSaramaConfig(),
			OTELEnabled:           cfg.OTELEnabled,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return publisher, subscriber, nil
}
