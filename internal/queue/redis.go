package queue

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

const (
	defaultStream      = "leadgen:jobs"
	defaultGroup       = "workers"
	defaultBlock       = 5 * time.Second
	defaultReclaimIdle = 10 * time.Minute
	defaultDeadMaxLen  = 10000

	maxPendingCheck = 50
)

// RedisOptions configures a Redis Streams queue.
type RedisOptions struct {
	Stream   string
	Group    string
	Consumer string
	// Block bounds each XREADGROUP call so Receive can notice cancellation.
	Block time.Duration
	// ReclaimIdle is how long a delivery may stay unacknowledged before
	// another consumer claims it.
	ReclaimIdle time.Duration
	DeadMaxLen  int64
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Stream == "" {
		o.Stream = defaultStream
	}
	if o.Group == "" {
		o.Group = defaultGroup
	}
	if o.Consumer == "" {
		host, _ := os.Hostname()
		o.Consumer = host + "-" + uuid.NewString()[:8]
	}
	if o.Block <= 0 {
		o.Block = defaultBlock
	}
	if o.ReclaimIdle <= 0 {
		o.ReclaimIdle = defaultReclaimIdle
	}
	if o.DeadMaxLen <= 0 {
		o.DeadMaxLen = defaultDeadMaxLen
	}
	return o
}

// DeadStream returns the dead-letter stream name.
func (o RedisOptions) DeadStream() string {
	return o.Stream + ":dead"
}

// RedisQueue implements Queue on a Redis stream with a consumer group.
type RedisQueue struct {
	client     *redis.Client
	opts       RedisOptions
	log        *zap.Logger
	ownsClient bool
	closed     atomic.Bool
}

// DialRedis connects to redisURL and returns a queue that closes the
// client on Close.
func DialRedis(ctx context.Context, redisURL string, opts RedisOptions, log *zap.Logger) (*RedisQueue, error) {
	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "queue: parse redis url")
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "queue: ping redis")
	}
	q, err := NewRedis(ctx, client, opts, log)
	if err != nil {
		client.Close() //nolint:errcheck
		return nil, err
	}
	q.ownsClient = true
	return q, nil
}

// NewRedis creates the consumer group if needed and returns the queue.
func NewRedis(ctx context.Context, client *redis.Client, opts RedisOptions, log *zap.Logger) (*RedisQueue, error) {
	if log == nil {
		log = zap.L()
	}
	opts = opts.withDefaults()
	q := &RedisQueue{
		client: client,
		opts:   opts,
		log:    log.With(zap.String("component", "queue"), zap.String("stream", opts.Stream)),
	}
	err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, eris.Wrapf(err, "queue: create group %s", opts.Group)
	}
	return q, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Options returns the effective options.
func (q *RedisQueue) Options() RedisOptions {
	return q.opts
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if err := validate(task); err != nil {
		return err
	}
	task = stamp(task)
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]any{
			"job_id":      task.JobID,
			"enqueued_at": task.EnqueuedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	return eris.Wrapf(err, "queue: enqueue job %s", task.JobID)
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if q.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if d := q.reclaim(ctx); d != nil {
			return d, nil
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: q.opts.Consumer,
			Streams:  []string{q.opts.Stream, ">"},
			Count:    1,
			Block:    q.opts.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, eris.Wrap(err, "queue: read group")
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				if d := q.delivery(ctx, msg, false); d != nil {
					return d, nil
				}
			}
		}
	}
}

// reclaim claims one delivery that another consumer left unacknowledged
// for longer than ReclaimIdle.
func (q *RedisQueue) reclaim(ctx context.Context) *Delivery {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.opts.Stream,
		Group:  q.opts.Group,
		Start:  "-",
		End:    "+",
		Count:  maxPendingCheck,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			q.log.Warn("queue: pending check failed", zap.Error(err))
		}
		return nil
	}

	for _, p := range pending {
		if p.Idle < q.opts.ReclaimIdle {
			continue
		}
		msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.opts.Stream,
			Group:    q.opts.Group,
			Consumer: q.opts.Consumer,
			MinIdle:  q.opts.ReclaimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			q.log.Warn("queue: claim failed", zap.String("message_id", p.ID), zap.Error(err))
			continue
		}
		for _, msg := range msgs {
			q.log.Info("queue: reclaimed delivery",
				zap.String("message_id", msg.ID),
				zap.String("previous_consumer", p.Consumer),
				zap.Int64("retry_count", p.RetryCount),
			)
			if d := q.delivery(ctx, msg, true); d != nil {
				return d
			}
		}
	}
	return nil
}

// delivery converts a stream message. Malformed messages are dead-lettered
// and nil is returned.
func (q *RedisQueue) delivery(ctx context.Context, msg redis.XMessage, redelivered bool) *Delivery {
	task, err := parseTask(msg)
	if err != nil {
		q.log.Warn("queue: malformed message", zap.String("message_id", msg.ID), zap.Error(err))
		if derr := q.deadLetter(ctx, msg.ID, Task{}, err); derr != nil {
			q.log.Error("queue: dead-letter malformed message", zap.Error(derr))
		}
		return nil
	}
	id := msg.ID
	return &Delivery{
		ID:          id,
		Task:        task,
		Redelivered: redelivered,
		ack: func(ctx context.Context) error {
			return q.remove(ctx, id)
		},
		nack: func(ctx context.Context, cause error) error {
			return q.deadLetter(ctx, id, task, cause)
		},
	}
}

func parseTask(msg redis.XMessage) (Task, error) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		return Task{}, eris.New("queue: message without job_id")
	}
	task := Task{JobID: jobID}
	if raw, ok := msg.Values["enqueued_at"].(string); ok && raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			task.EnqueuedAt = ts
		}
	}
	return task, nil
}

func (q *RedisQueue) remove(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, q.opts.Stream, q.opts.Group, id).Err(); err != nil {
		return eris.Wrapf(err, "queue: ack %s", id)
	}
	if err := q.client.XDel(ctx, q.opts.Stream, id).Err(); err != nil {
		q.log.Warn("queue: delete acked message", zap.String("message_id", id), zap.Error(err))
	}
	return nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, id string, task Task, cause error) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.DeadStream(),
		MaxLen: q.opts.DeadMaxLen,
		Approx: true,
		Values: map[string]any{
			"message_id": id,
			"job_id":     task.JobID,
			"error":      errString(cause),
			"class":      resilience.Classify(cause),
			"failed_at":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return eris.Wrapf(err, "queue: dead-letter %s", id)
	}
	return q.remove(ctx, id)
}

// DeadLetters returns up to count of the most recent dead letters.
func (q *RedisQueue) DeadLetters(ctx context.Context, count int64) ([]DeadLetter, error) {
	msgs, err := q.client.XRevRangeN(ctx, q.opts.DeadStream(), "+", "-", count).Result()
	if err != nil {
		return nil, eris.Wrap(err, "queue: read dead letters")
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		dl := DeadLetter{}
		dl.Task.JobID, _ = msg.Values["job_id"].(string)
		dl.Error, _ = msg.Values["error"].(string)
		dl.Class, _ = msg.Values["class"].(string)
		if raw, ok := msg.Values["failed_at"].(string); ok {
			dl.FailedAt, _ = time.Parse(time.RFC3339Nano, raw)
		}
		out = append(out, dl)
	}
	return out, nil
}

// DeadLetterCount returns the length of the dead-letter stream.
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, q.opts.DeadStream()).Result()
	if err != nil {
		return 0, eris.Wrap(err, "queue: dead-letter count")
	}
	return n, nil
}

// Pending returns the number of delivered but unacknowledged tasks.
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	p, err := q.client.XPending(ctx, q.opts.Stream, q.opts.Group).Result()
	if err != nil {
		return 0, eris.Wrap(err, "queue: pending")
	}
	return p.Count, nil
}

func (q *RedisQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if q.ownsClient {
		return eris.Wrap(q.client.Close(), "queue: close redis")
	}
	return nil
}
