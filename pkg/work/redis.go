package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultQueueName = "routing:work:queue"
	lockPrefix       = "routing:work:lock:"

	defaultLockTTL     = 10 * time.Minute
	defaultPollTimeout = time.Second
)

// releaseScript deletes a lock only while it still holds the unit that
// took it. An expired lock may have been taken again by a newer unit.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisScheduler queues units in a Redis list. A key is held by a SET NX
// lock that expires after the lock TTL, so a unit lost with its consumer
// blocks its key for that long at most.
type RedisScheduler struct {
	client      redis.UniversalClient
	queue       string
	lockTTL     time.Duration
	pollTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type RedisOption func(*RedisScheduler)

func WithQueueName(name string) RedisOption {
	return func(s *RedisScheduler) {
		s.queue = name
	}
}

func WithLockTTL(ttl time.Duration) RedisOption {
	return func(s *RedisScheduler) {
		s.lockTTL = ttl
	}
}

func WithPollTimeout(timeout time.Duration) RedisOption {
	return func(s *RedisScheduler) {
		s.pollTimeout = timeout
	}
}

func NewRedisScheduler(logger *slog.Logger, client redis.UniversalClient, opts ...RedisOption) *RedisScheduler {
	s := &RedisScheduler{
		client:      client,
		queue:       DefaultQueueName,
		lockTTL:     defaultLockTTL,
		pollTimeout: defaultPollTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logger.With("module", "work", "backend", "redis", "queue", s.queue)

	return s
}

// NewRedisClient connects to the Redis server at url (redis://...).
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func LockKey(key string) string {
	return lockPrefix + key
}

func (s *RedisScheduler) ScheduleOnce(ctx context.Context, unit Unit, key string) (bool, error) {
	unit, err := prepare(unit, key, s.now)
	if err != nil {
		return false, err
	}

	acquired, err := s.client.SetNX(ctx, LockKey(key), unit.ID, s.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lock work key %s: %w", key, err)
	}

	if !acquired {
		s.logger.DebugContext(ctx, "Work unit already scheduled", "key", key)

		return false, nil
	}

	message, err := json.Marshal(unit)
	if err != nil {
		s.release(ctx, key, unit.ID)

		return false, fmt.Errorf("failed to marshal work unit: %w", err)
	}

	err = s.client.RPush(ctx, s.queue, message).Err()
	if err != nil {
		s.release(ctx, key, unit.ID)

		return false, fmt.Errorf("failed to push work unit %s: %w", unit.ID, err)
	}

	s.logger.DebugContext(ctx, "Work unit scheduled", "unit_id", unit.ID, "key", key)

	return true, nil
}

// Consume pops units from the queue and handles them until ctx is done.
// The key of a unit is released once its handler returns, whatever the
// outcome, so a failed unit can be scheduled again. A key locked again by
// a newer unit after the lock TTL expired is left alone.
func (s *RedisScheduler) Consume(ctx context.Context, handler Handler) error {
	s.logger.InfoContext(ctx, "Starting work consumer")

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Work consumer stopped")

			return nil
		default:
		}

		err := s.processMessage(ctx, handler)
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "Work consumer stopped")

			return nil
		}

		s.logger.ErrorContext(ctx, "Error processing work unit", "error", err)

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

func (s *RedisScheduler) processMessage(ctx context.Context, handler Handler) error {
	result, err := s.client.BLPop(ctx, s.pollTimeout, s.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop work unit: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var unit Unit

	err = json.Unmarshal([]byte(result[1]), &unit)
	if err != nil {
		return fmt.Errorf("failed to unmarshal work unit: %w", err)
	}

	err = handle(ctx, s.logger, handler, unit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Work unit failed", "unit_id", unit.ID, "key", unit.Key, "error", err)
	}

	s.release(ctx, unit.Key, unit.ID)

	return nil
}

// Pending returns the number of queued units.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.queue).Result()
}

func (s *RedisScheduler) release(ctx context.Context, key, unitID string) {
	// the handler context may already be canceled on shutdown
	err := releaseScript.Run(context.WithoutCancel(ctx), s.client, []string{LockKey(key)}, unitID).Err()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to release work key", "key", key, "error", err)
	}
}

func (s *RedisScheduler) Close() error {
	return s.client.Close()
}
