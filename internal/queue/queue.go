// Package queue distributes job-processing tasks to worker pools.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = eris.New("queue: closed")

// Task asks a worker to process one job.
type Task struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a received task awaiting acknowledgement. Unacknowledged
// deliveries are redelivered, so handlers must tolerate duplicates.
type Delivery struct {
	ID   string
	Task Task
	// Redelivered is set when the task was reclaimed from a consumer that
	// never acknowledged it.
	Redelivered bool

	ack  func(ctx context.Context) error
	nack func(ctx context.Context, cause error) error
}

// Ack marks the delivery as handled.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack removes the delivery from the queue and records it as a dead
// letter along with cause.
func (d *Delivery) Nack(ctx context.Context, cause error) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx, cause)
}

// DeadLetter is a task that could not be processed.
type DeadLetter struct {
	Task     Task      `json:"task"`
	Error    string    `json:"error"`
	Class    string    `json:"class"`
	FailedAt time.Time `json:"failed_at"`
}

// Queue is an at-least-once task queue.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Receive blocks until a task is available or ctx is done.
	Receive(ctx context.Context) (*Delivery, error)
	Close() error
}

func stamp(task Task) Task {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	return task
}

func validate(task Task) error {
	if task.JobID == "" {
		return eris.New("queue: task without job id")
	}
	return nil
}
