package queue

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// MemoryQueue is an in-process Queue for single-binary deployments and
// tests.
type MemoryQueue struct {
	ch     chan Task
	seq    atomic.Int64
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	dead   []DeadLetter
	closed bool
}

// NewMemory creates a MemoryQueue holding up to size pending tasks.
func NewMemory(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan Task, size), done: make(chan struct{})}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	if err := validate(task); err != nil {
		return err
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case q.ch <- stamp(task):
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "queue: enqueue")
	}
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case task := <-q.ch:
		id := strconv.FormatInt(q.seq.Add(1), 10)
		return &Delivery{
			ID:   id,
			Task: task,
			nack: func(_ context.Context, cause error) error {
				q.mu.Lock()
				defer q.mu.Unlock()
				q.dead = append(q.dead, DeadLetter{
					Task:     task,
					Error:    errString(cause),
					Class:    resilience.Classify(cause),
					FailedAt: time.Now().UTC(),
				})
				return nil
			},
		}, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of tasks waiting.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// DeadLetters returns a copy of the recorded dead letters.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// DeadLetterCount returns the number of recorded dead letters.
func (q *MemoryQueue) DeadLetterCount(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dead)), nil
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
