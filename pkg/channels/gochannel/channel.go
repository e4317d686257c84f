// Package gochannel provides the in-process event channel used by single-process deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const DefaultBuffer = 1000

type Config struct {
	// Buffer is the number of undelivered events kept per subscriber.
	Buffer int64
	// BlockUntilAck makes Publish return only after every subscriber
	// acknowledged the event.
	BlockUntilAck bool
}

// CreateChannel returns the same GoChannel as publisher and subscriber.
// Events are lost when the process exits.
func CreateChannel(logger watermill.LoggerAdapter, cfg Config) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.Buffer,
			BlockPublishUntilSubscriberAck: cfg.BlockUntilAck,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
