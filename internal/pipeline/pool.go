package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen-cli/internal/monitoring"
	"github.com/sells-group/leadgen-cli/internal/queue"
)

// Delivery results recorded by the pool.
const (
	deliveryAcked   = "acked"
	deliveryNacked  = "nacked"
	deliverySkipped = "skipped"
)

// Processor runs a single job. *Worker implements it.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Pool consumes job tasks from a queue with a fixed number of concurrent
// workers. Each task is acknowledged once its job reached a terminal
// state, or dead-lettered when it could not be processed at all.
type Pool struct {
	queue       queue.Queue
	processor   Processor
	concurrency int
	log         *zap.Logger
	metrics     *monitoring.Metrics
}

// NewPool creates a Pool. concurrency below 1 is treated as 1.
func NewPool(q queue.Queue, p Processor, concurrency int, log *zap.Logger, metrics *monitoring.Metrics) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.L()
	}
	return &Pool{
		queue:       q,
		processor:   p,
		concurrency: concurrency,
		log:         log.With(zap.String("component", "pool")),
		metrics:     metrics,
	}
}

// Run blocks until ctx is done or the queue is closed.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("pipeline: worker pool started", zap.Int("concurrency", p.concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			return p.consume(gctx, i)
		})
	}

	err := g.Wait()
	p.log.Info("pipeline: worker pool stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (p *Pool) consume(ctx context.Context, id int) error {
	log := p.log.With(zap.Int("worker", id))
	for {
		d, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || eris.Is(err, queue.ErrClosed) {
				return nil
			}
			return eris.Wrap(err, "pipeline: receive task")
		}
		p.handle(ctx, log, d)
	}
}

// handle processes one delivery and settles it. A delivery interrupted by
// shutdown is left unacknowledged so the queue redelivers it.
func (p *Pool) handle(ctx context.Context, log *zap.Logger, d *queue.Delivery) {
	log = log.With(zap.String("job_id", d.Task.JobID), zap.Bool("redelivered", d.Redelivered))

	err := p.processor.Process(ctx, d.Task.JobID)
	settle := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		p.ack(settle, log, d, deliveryAcked)
	case eris.Is(err, ErrJobNotPending):
		log.Info("pipeline: skipping delivery, job not pending")
		p.ack(settle, log, d, deliverySkipped)
	case eris.Is(err, ErrJobCancelled):
		p.ack(settle, log, d, deliveryAcked)
	case ctx.Err() != nil:
		log.Info("pipeline: delivery interrupted by shutdown")
	default:
		// Failed jobs and vanished jobs both end up in the dead letters.
		p.nack(settle, log, d, err)
	}
}

func (p *Pool) ack(ctx context.Context, log *zap.Logger, d *queue.Delivery, result string) {
	if err := d.Ack(ctx); err != nil {
		log.Error("pipeline: ack delivery", zap.Error(err))
		return
	}
	p.metrics.ObserveDelivery(result)
}

func (p *Pool) nack(ctx context.Context, log *zap.Logger, d *queue.Delivery, cause error) {
	log.Warn("pipeline: dead-lettering delivery", zap.Error(cause))
	if err := d.Nack(ctx, cause); err != nil {
		log.Error("pipeline: nack delivery", zap.Error(err))
		return
	}
	p.metrics.ObserveDelivery(deliveryNacked)
}
