package work_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/routing/pkg/work"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newRedisScheduler(t *testing.T) (*work.RedisScheduler, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	scheduler := work.NewRedisScheduler(testLogger(), client, work.WithLockTTL(5*time.Minute))

	t.Cleanup(func() {
		_ = scheduler.Close()
	})

	return scheduler, mr
}

func escalationUnit(rule string) work.Unit {
	return work.Unit{
		Kind:    work.KindEscalation,
		Payload: map[string]string{"route_id": "r-1", "node_id": "review", "rule_id": rule},
	}
}

// consumeOne runs consumer until handler saw one unit.
func consumeOne(t *testing.T, consumer work.Consumer, handler func(work.Unit) error) work.Unit {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		got  work.Unit
		once sync.Once
	)

	err := consumer.Consume(ctx, work.HandlerFunc(func(_ context.Context, unit work.Unit) error {
		defer once.Do(cancel)

		got = unit

		return handler(unit)
	}))
	require.NoError(t, err)
	require.NotEmpty(t, got.ID, "no unit consumed before timeout")

	return got
}

func TestRedisScheduler_ScheduleOnce(t *testing.T) {
	t.Parallel()

	scheduler, mr := newRedisScheduler(t)
	ctx := context.Background()

	queued, err := scheduler.ScheduleOnce(ctx, escalationUnit("late"), "escalation:r-1:review:late")
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = scheduler.ScheduleOnce(ctx, escalationUnit("late"), "escalation:r-1:review:late")
	require.NoError(t, err)
	assert.False(t, queued, "a key is scheduled once until handled")

	queued, err = scheduler.ScheduleOnce(ctx, escalationUnit("later"), "escalation:r-1:review:later")
	require.NoError(t, err)
	assert.True(t, queued)

	pending, err := scheduler.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	lockKey := work.LockKey("escalation:r-1:review:late")
	assert.True(t, mr.Exists(lockKey))
	assert.Equal(t, 5*time.Minute, mr.TTL(lockKey))

	_, err = scheduler.ScheduleOnce(ctx, escalationUnit("late"), "")
	require.ErrorIs(t, err, work.ErrNoKey)
}

func TestRedisScheduler_ConsumeReleasesKey(t *testing.T) {
	t.Parallel()

	scheduler, mr := newRedisScheduler(t)
	ctx := context.Background()
	key := "escalation:r-1:review:late"

	_, err := scheduler.ScheduleOnce(ctx, escalationUnit("late"), key)
	require.NoError(t, err)

	unit := consumeOne(t, scheduler, func(work.Unit) error {
		assert.True(t, mr.Exists(work.LockKey(key)), "the key stays locked while the unit runs")

		return errors.New("handler failed")
	})

	assert.Equal(t, work.KindEscalation, unit.Kind)
	assert.Equal(t, key, unit.Key)
	assert.Equal(t, "late", unit.Payload["rule_id"])
	assert.False(t, unit.ScheduledAt.IsZero())
	assert.False(t, mr.Exists(work.LockKey(key)), "the key is released even when the handler fails")

	queued, err := scheduler.ScheduleOnce(ctx, escalationUnit("late"), key)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestRedisScheduler_ConsumeSurvivesPanics(t *testing.T) {
	t.Parallel()

	scheduler, mr := newRedisScheduler(t)
	ctx := context.Background()

	_, err := scheduler.ScheduleOnce(ctx, escalationUnit("late"), "boom")
	require.NoError(t, err)

	consumeOne(t, scheduler, func(work.Unit) error {
		panic("handler bug")
	})

	assert.False(t, mr.Exists(work.LockKey("boom")))
}

func TestLocalScheduler(t *testing.T) {
	t.Parallel()

	scheduler := work.NewLocalScheduler(testLogger(), 2)
	ctx := context.Background()

	queued, err := scheduler.ScheduleOnce(ctx, escalationUnit("a"), "a")
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = scheduler.ScheduleOnce(ctx, escalationUnit("a"), "a")
	require.NoError(t, err)
	assert.False(t, queued)

	queued, err = scheduler.ScheduleOnce(ctx, escalationUnit("b"), "b")
	require.NoError(t, err)
	assert.True(t, queued)

	_, err = scheduler.ScheduleOnce(ctx, escalationUnit("c"), "c")
	require.ErrorIs(t, err, work.ErrQueueFull)

	assert.Equal(t, 2, scheduler.Pending())

	unit := consumeOne(t, scheduler, func(work.Unit) error { return nil })
	assert.Equal(t, "a", unit.Key)

	queued, err = scheduler.ScheduleOnce(ctx, escalationUnit("a"), "a")
	require.NoError(t, err)
	assert.True(t, queued, "a handled key can be scheduled again")
}

func TestMux(t *testing.T) {
	t.Parallel()

	mux := work.NewMux()

	var handled []string

	mux.Register(work.KindEscalation, work.HandlerFunc(func(_ context.Context, unit work.Unit) error {
		handled = append(handled, unit.Payload["rule_id"])

		return nil
	}))

	require.NoError(t, mux.Handle(context.Background(), escalationUnit("late")))
	assert.Equal(t, []string{"late"}, handled)

	err := mux.Handle(context.Background(), work.Unit{Kind: "report"})
	require.ErrorIs(t, err, work.ErrNoHandler)
}

func TestRedisScheduler_ReleaseKeepsNewerLock(t *testing.T) {
	t.Parallel()

	scheduler, mr := newRedisScheduler(t)
	ctx := context.Background()
	key := "escalation:r-1:review:late"
	lockKey := work.LockKey(key)

	_, err := scheduler.ScheduleOnce(ctx, escalationUnit("late"), key)
	require.NoError(t, err)

	var newer string

	first := consumeOne(t, scheduler, func(work.Unit) error {
		// the handler outlives the lock and the rule is scheduled again
		mr.FastForward(6 * time.Minute)
		require.False(t, mr.Exists(lockKey))

		queued, err := scheduler.ScheduleOnce(ctx, escalationUnit("late"), key)
		require.NoError(t, err)
		require.True(t, queued)

		newer, err = mr.Get(lockKey)
		require.NoError(t, err)

		return nil
	})

	require.NotEqual(t, first.ID, newer)

	owner, err := mr.Get(lockKey)
	require.NoError(t, err)
	assert.Equal(t, newer, owner, "the first unit does not release the lock of the second")

	queued, err := scheduler.ScheduleOnce(ctx, escalationUnit("late"), key)
	require.NoError(t, err)
	assert.False(t, queued)
}
