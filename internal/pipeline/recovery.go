package pipeline

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/queue"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// RecoveryStore is the store subset the recovery sweep needs.
type RecoveryStore interface {
	ListStaleJobs(ctx context.Context, status model.JobStatus, olderThan time.Time) ([]string, error)
	MarkEnqueued(ctx context.Context, id string) error
	TransitionJob(ctx context.Context, id string, from, to model.JobStatus, errMsg string) error
}

// Enqueuer hands job tasks to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// RecoveryReport counts what one sweep did.
type RecoveryReport struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

const staleWorkerMessage = "worker stopped responding"

// Recovery periodically re-enqueues pending jobs whose task was lost and
// fails processing jobs whose worker went away.
type Recovery struct {
	store      RecoveryStore
	queue      Enqueuer
	staleAfter time.Duration
	schedule   string
	cron       *cron.Cron
	log        *zap.Logger
}

// NewRecovery validates the cron schedule (standard five-field syntax or
// descriptors such as "@every 5m").
func NewRecovery(st RecoveryStore, q Enqueuer, schedule string, staleAfter time.Duration, log *zap.Logger) (*Recovery, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, eris.Wrapf(err, "pipeline: invalid recovery schedule %q", schedule)
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if log == nil {
		log = zap.L()
	}
	return &Recovery{
		store:      st,
		queue:      q,
		staleAfter: staleAfter,
		schedule:   schedule,
		log:        log.With(zap.String("component", "recovery")),
	}, nil
}

// Start schedules sweeps until Stop is called or ctx is done.
func (r *Recovery) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error("pipeline: recovery sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: schedule recovery")
	}
	r.cron.Start()
	r.log.Info("pipeline: recovery scheduled",
		zap.String("schedule", r.schedule),
		zap.Duration("stale_after", r.staleAfter),
	)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (r *Recovery) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// RunOnce performs a single sweep.
func (r *Recovery) RunOnce(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	cutoff := time.Now().UTC().Add(-r.staleAfter)

	pending, err := r.store.ListStaleJobs(ctx, model.JobStatusPending, cutoff)
	if err != nil {
		return report, eris.Wrap(err, "pipeline: list stale pending jobs")
	}
	for _, id := range pending {
		if err := r.queue.Enqueue(ctx, queue.Task{JobID: id}); err != nil {
			return report, eris.Wrapf(err, "pipeline: re-enqueue job %s", id)
		}
		if err := r.store.MarkEnqueued(ctx, id); err != nil {
			r.log.Warn("pipeline: mark re-enqueued job", zap.String("job_id", id), zap.Error(err))
		}
		report.Requeued++
	}

	processing, err := r.store.ListStaleJobs(ctx, model.JobStatusProcessing, cutoff)
	if err != nil {
		return report, eris.Wrap(err, "pipeline: list stale processing jobs")
	}
	for _, id := range processing {
		err := r.store.TransitionJob(ctx, id, model.JobStatusProcessing, model.JobStatusFailed, staleWorkerMessage)
		if err != nil {
			if eris.Is(err, store.ErrInvalidTransition) {
				continue
			}
			return report, eris.Wrapf(err, "pipeline: fail stale job %s", id)
		}
		report.Failed++
	}

	if report.Requeued > 0 || report.Failed > 0 {
		r.log.Info("pipeline: recovery sweep",
			zap.Int("requeued", report.Requeued),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}
