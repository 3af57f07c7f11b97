package pipeline

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/extract"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/monitoring"
	"github.com/sells-group/leadgen-cli/internal/normalize"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/internal/scrape"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/internal/validate"
)

var (
	// ErrJobCancelled is returned when a job stops because a cancel was
	// requested.
	ErrJobCancelled = eris.New("pipeline: job cancelled")
	// ErrJobNotPending is returned when a delivered job was already
	// picked up, finished or deleted.
	ErrJobNotPending = eris.New("pipeline: job not pending")
)

const (
	cancelledMessage   = "cancelled"
	interruptedMessage = "interrupted"
)

// JobStore is the subset of store.Store the worker writes through.
type JobStore interface {
	Lookup
	GetJob(ctx context.Context, id string) (*model.Job, error)
	TransitionJob(ctx context.Context, id string, from, to model.JobStatus, errMsg string) error
	UpdateJobProgress(ctx context.Context, id string, c model.JobCounters) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
	PersistRecord(ctx context.Context, rec *model.Record) error
	SaveRawData(ctx context.Context, raw *model.RawData) error
}

// TargetResolver expands a job into the ordered pages to fetch.
type TargetResolver interface {
	Resolve(ctx context.Context, job *model.Job) ([]model.Target, error)
}

// Fetcher retrieves one page. Errors are transient and retried; a result
// with Success=false is final.
type Fetcher interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
}

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	Extract extract.Config
	Retry   resilience.RetryConfig
}

// Worker runs one job at a time through fetch, extract, normalize,
// assemble, dedupe and persist, target by target.
type Worker struct {
	store     JobStore
	resolver  TargetResolver
	fetcher   Fetcher
	extractor *extract.Extractor
	dedupe    *Deduplicator
	cfg       WorkerConfig
	log       *zap.Logger
	metrics   *monitoring.Metrics
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(log *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithMetrics records job, target and record metrics.
func WithMetrics(m *monitoring.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a Worker.
func NewWorker(st JobStore, resolver TargetResolver, fetcher Fetcher, cfg WorkerConfig, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:    st,
		resolver: resolver,
		fetcher:  fetcher,
		cfg:      cfg,
		log:      zap.L(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(zap.String("component", "worker"))
	w.extractor = extract.New(w.log)
	w.dedupe = NewDeduplicator(st, w.log, w.metrics)
	if w.cfg.Retry.OnRetry == nil {
		w.cfg.Retry.OnRetry = resilience.RetryLogger(w.log, "fetch")
	}
	return w
}

// targetOutcome summarizes one processed target.
type targetOutcome struct {
	failed     bool
	unique     int
	duplicates int
}

// Process claims a pending job and runs it to completion. The job ends
// completed, or failed when a store write fails, targets cannot be
// resolved, a cancel is requested or ctx is done. Records persisted
// before a failure are kept.
func (w *Worker) Process(ctx context.Context, jobID string) error {
	log := w.log.With(zap.String("job_id", jobID))

	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load job %s", jobID)
	}
	if job.Status != model.JobStatusPending {
		return ErrJobNotPending
	}
	if err := w.store.TransitionJob(ctx, jobID, model.JobStatusPending, model.JobStatusProcessing, ""); err != nil {
		if eris.Is(err, store.ErrInvalidTransition) {
			return ErrJobNotPending
		}
		return eris.Wrap(err, "pipeline: start job")
	}

	start := time.Now()
	w.metrics.JobStarted()
	log.Info("pipeline: job started", zap.String("source", string(job.Source)))

	targets, err := w.resolver.Resolve(ctx, job)
	if err != nil {
		return w.fail(ctx, log, jobID, start, err.Error(), eris.Wrap(err, "pipeline: resolve targets"))
	}
	log.Info("pipeline: targets resolved", zap.Int("targets", len(targets)))

	var counters model.JobCounters
	for i, target := range targets {
		if ctx.Err() != nil {
			return w.fail(ctx, log, jobID, start, interruptedMessage, eris.Wrap(ctx.Err(), "pipeline: interrupted"))
		}

		cancelled, err := w.store.IsCancelRequested(ctx, jobID)
		if err != nil {
			return w.fail(ctx, log, jobID, start, err.Error(), eris.Wrap(err, "pipeline: check cancel"))
		}
		if cancelled {
			return w.fail(ctx, log, jobID, start, cancelledMessage, ErrJobCancelled)
		}

		out, err := w.processTarget(ctx, log, job, target)
		if err != nil {
			if ctx.Err() != nil {
				return w.fail(ctx, log, jobID, start, interruptedMessage, eris.Wrap(ctx.Err(), "pipeline: interrupted"))
			}
			return w.fail(ctx, log, jobID, start, err.Error(), err)
		}

		counters.TotalRecords += out.unique + out.duplicates
		counters.ProcessedRecords += out.unique
		if out.failed {
			counters.FailedRecords++
		}
		counters.Progress = progress(i+1, len(targets))

		if err := w.store.UpdateJobProgress(ctx, jobID, counters); err != nil {
			return w.fail(ctx, log, jobID, start, err.Error(), eris.Wrap(err, "pipeline: update progress"))
		}
	}

	if err := w.store.TransitionJob(ctx, jobID, model.JobStatusProcessing, model.JobStatusCompleted, ""); err != nil {
		return w.fail(ctx, log, jobID, start, err.Error(), eris.Wrap(err, "pipeline: complete job"))
	}
	w.metrics.JobFinished(string(model.JobStatusCompleted), time.Since(start))
	log.Info("pipeline: job completed",
		zap.Int("targets", len(targets)),
		zap.Int("total_records", counters.TotalRecords),
		zap.Int("processed_records", counters.ProcessedRecords),
		zap.Int("failed_records", counters.FailedRecords),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// fail marks the job failed and returns cause. The status write survives
// cancellation of ctx.
func (w *Worker) fail(ctx context.Context, log *zap.Logger, jobID string, start time.Time, msg string, cause error) error {
	wctx := context.WithoutCancel(ctx)
	if err := w.store.TransitionJob(wctx, jobID, model.JobStatusProcessing, model.JobStatusFailed, msg); err != nil {
		log.Error("pipeline: mark job failed", zap.Error(err))
	}
	w.metrics.JobFinished(string(model.JobStatusFailed), time.Since(start))
	log.Warn("pipeline: job failed", zap.String("reason", msg), zap.Error(cause))
	return cause
}

// processTarget handles one page. Fetch problems are a failed unit;
// store errors are returned and end the job.
func (w *Worker) processTarget(ctx context.Context, log *zap.Logger, job *model.Job, target model.Target) (targetOutcome, error) {
	log = log.With(zap.String("target", target.URL))

	res, err := resilience.DoVal(ctx, w.cfg.Retry, func(ctx context.Context) (*scrape.Result, error) {
		return w.fetcher.Scrape(ctx, target.URL)
	})
	if err != nil {
		if ctx.Err() != nil {
			return targetOutcome{}, ctx.Err()
		}
		log.Warn("pipeline: fetch failed", zap.Error(err))
		res = &scrape.Result{URL: target.URL, TOSCompliant: true, Error: err.Error(), Source: "error"}
	}
	if res.URL == "" {
		res.URL = target.URL
	}
	w.metrics.ObserveFetch(res.Source, res.Duration)

	if err := w.store.SaveRawData(ctx, res.RawData(job.ID)); err != nil {
		return targetOutcome{}, eris.Wrap(err, "pipeline: save raw data")
	}

	if !res.Success {
		outcome := failureOutcome(res)
		w.metrics.ObserveTarget(outcome)
		log.Info("pipeline: target failed",
			zap.String("outcome", outcome),
			zap.Bool("requires_review", res.RequiresReview),
			zap.String("error", res.Error),
		)
		return targetOutcome{failed: true}, nil
	}

	doc := w.document(log, res)
	found := w.extractor.Extract(doc, w.cfg.Extract)
	values := normalize.All(found.All(), w.region())
	records := Assemble(values, found.Confidence(), job.ID, res.URL)
	batch := w.dedupe.Dedupe(ctx, records, job.ID)

	var out targetOutcome
	for _, rec := range batch.Unique {
		dup, err := w.persist(ctx, rec, false)
		if err != nil {
			return out, err
		}
		if dup {
			out.duplicates++
		} else {
			out.unique++
		}
	}
	for _, rec := range batch.Duplicates {
		if _, err := w.persist(ctx, rec, true); err != nil {
			return out, err
		}
		out.duplicates++
	}

	w.metrics.ObserveTarget(monitoring.OutcomeSuccess)
	w.metrics.ObserveRecords(out.unique, out.duplicates)
	log.Debug("pipeline: target processed",
		zap.Int("candidates", found.Count()),
		zap.Int("unique", out.unique),
		zap.Int("duplicates", out.duplicates),
	)
	return out, nil
}

// persist stores rec. A unique record that collides with one stored
// concurrently is stored again flagged as a duplicate; the returned bool
// reports whether the stored row is a duplicate.
func (w *Worker) persist(ctx context.Context, rec model.AssembledRecord, duplicate bool) (bool, error) {
	err := w.store.PersistRecord(ctx, w.newRecord(rec, duplicate))
	if err == nil {
		return duplicate, nil
	}
	if duplicate || !eris.Is(err, store.ErrDuplicateIdentity) {
		return duplicate, eris.Wrap(err, "pipeline: persist record")
	}
	if err := w.store.PersistRecord(ctx, w.newRecord(rec, true)); err != nil {
		return true, eris.Wrap(err, "pipeline: persist duplicate record")
	}
	return true, nil
}

func (w *Worker) newRecord(rec model.AssembledRecord, duplicate bool) *model.Record {
	r := model.NewRecord(rec, duplicate)
	r.EmailValid = r.Email != nil && validate.Email(*r.Email)
	if r.Phone != nil {
		_, r.PhoneValid = validate.ParsePhone(*r.Phone, w.region())
	}
	return r
}

func (w *Worker) document(log *zap.Logger, res *scrape.Result) *extract.Document {
	if res.ContentType != model.ContentHTML && !looksLikeHTML(res.Content) {
		return extract.ParseText(res.Content)
	}
	doc, err := extract.ParseHTML(res.Content)
	if err != nil {
		log.Warn("pipeline: html parse failed, using raw text", zap.Error(err))
		return extract.ParseText(res.Content)
	}
	return doc
}

func (w *Worker) region() string {
	if w.cfg.Extract.Region != "" {
		return w.cfg.Extract.Region
	}
	return validate.DefaultRegion
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.Contains(head, "<html")
}

func failureOutcome(res *scrape.Result) string {
	switch {
	case res.CaptchaRequired:
		return monitoring.OutcomeCaptcha
	case !res.TOSCompliant:
		return monitoring.OutcomeRobots
	case res.Blocked:
		return monitoring.OutcomeBlocked
	default:
		return monitoring.OutcomeFailed
	}
}

// progress is the rounded percentage of targets done.
func progress(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
