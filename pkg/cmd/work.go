package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/routing/pkg/work"
)

// NewWorkQueue creates the work queue named by queueURL: redis:// and
// rediss:// URLs use Redis, memory:// or an empty URL keeps work in process.
//
//nolint:ireturn // the provider is chosen at runtime
func NewWorkQueue(ctx context.Context, logger *slog.Logger, queueURL string) (work.Queue, error) {
	switch {
	case queueURL == "" || strings.HasPrefix(queueURL, "memory://"):
		return work.NewLocalScheduler(logger, 0), nil
	case strings.HasPrefix(queueURL, "redis://"), strings.HasPrefix(queueURL, "rediss://"):
		client, err := work.NewRedisClient(ctx, queueURL)
		if err != nil {
			return nil, err
		}

		return work.NewRedisScheduler(logger, client), nil
	default:
		return nil, fmt.Errorf("%w: work queue %q", ErrUnsupportedProvider, queueURL)
	}
}
