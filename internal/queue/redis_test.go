package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisQueue(t *testing.T, mr *miniredis.Miniredis, consumer string, reclaimIdle time.Duration) *RedisQueue {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	q, err := NewRedis(context.Background(), client, RedisOptions{
		Stream:      "test:jobs",
		Group:       "test-workers",
		Consumer:    consumer,
		Block:       50 * time.Millisecond,
		ReclaimIdle: reclaimIdle,
	}, zap.NewNop())
	require.NoError(t, err)
	return q
}

func TestRedisQueue_EnqueueReceiveAck(t *testing.T) {
	mr := miniredis.RunT(t)
	q := newTestRedisQueue(t, mr, "c1", time.Hour)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{JobID: "job-1"}))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", d.Task.JobID)
	assert.False(t, d.Redelivered)
	assert.False(t, d.Task.EnqueuedAt.IsZero())

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, d.Ack(ctx))
	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRedisQueue_GroupCreationIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	newTestRedisQueue(t, mr, "c1", time.Hour)
	newTestRedisQueue(t, mr, "c2", time.Hour)
}

func TestRedisQueue_ReceiveHonorsContext(t *testing.T) {
	mr := miniredis.RunT(t)
	q := newTestRedisQueue(t, mr, "c1", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}

func TestRedisQueue_NackWritesDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	q := newTestRedisQueue(t, mr, "c1", time.Hour)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{JobID: "job-9"}))
	d, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Nack(ctx, errors.New("job vanished")))

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "job-9", dead[0].Task.JobID)
	assert.Equal(t, "job vanished", dead[0].Error)
	assert.Equal(t, "permanent", dead[0].Class)

	n, err := q.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRedisQueue_ReclaimsAbandonedDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	first := newTestRedisQueue(t, mr, "c1", 10*time.Millisecond)
	second := newTestRedisQueue(t, mr, "c2", 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, first.Enqueue(ctx, Task{JobID: "job-1"}))
	d, err := first.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", d.Task.JobID)

	time.Sleep(40 * time.Millisecond)

	again, err := second.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", again.Task.JobID)
	assert.True(t, again.Redelivered)
	require.NoError(t, again.Ack(ctx))
}

func TestRedisQueue_Closed(t *testing.T) {
	mr := miniredis.RunT(t)
	q := newTestRedisQueue(t, mr, "c1", time.Hour)
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(context.Background(), Task{JobID: "job-1"}), ErrClosed)
	_, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialRedis_BadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "not-a-url", RedisOptions{}, nil)
	require.Error(t, err)
}

func TestRedisOptions_Defaults(t *testing.T) {
	o := RedisOptions{}.withDefaults()
	assert.Equal(t, defaultStream, o.Stream)
	assert.Equal(t, defaultGroup, o.Group)
	assert.NotEmpty(t, o.Consumer)
	assert.Equal(t, "leadgen:jobs:dead", o.DeadStream())
}
