// Package store persists jobs, extracted records, and raw fetch data.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicateIdentity is returned when a non-duplicate record collides
	// with an existing (job_id, email, phone) identity.
	ErrDuplicateIdentity = eris.New("store: duplicate identity")
	// ErrInvalidTransition is returned when a job is not in the state an
	// update requires.
	ErrInvalidTransition = eris.New("store: invalid job transition")
)

// Store is the persistence contract shared by the API, the worker pool,
// and the recovery scheduler.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	// TransitionJob moves a job from one status to another. It fails with
	// ErrInvalidTransition when the job is not currently in from.
	TransitionJob(ctx context.Context, id string, from, to model.JobStatus, errMsg string) error
	// UpdateJobProgress writes counters for a processing job. Progress
	// never decreases.
	UpdateJobProgress(ctx context.Context, id string, c model.JobCounters) error
	RequestCancel(ctx context.Context, id string) (*model.Job, error)
	IsCancelRequested(ctx context.Context, id string) (bool, error)
	// RetryJob moves a failed job back to pending, resetting its counters
	// and discarding records and raw data from the previous attempt.
	RetryJob(ctx context.Context, id string) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error
	// MarkEnqueued records that a pending job was handed to the queue.
	MarkEnqueued(ctx context.Context, id string) error
	// ListStaleJobs returns jobs in status untouched since olderThan.
	// Pending jobs are only listed once they have been enqueued.
	ListStaleJobs(ctx context.Context, status model.JobStatus, olderThan time.Time) ([]string, error)
	JobStats(ctx context.Context, since time.Time) (*model.JobStats, error)

	// FindExistingByIdentity returns the non-duplicate record for the job
	// with the exact (email, phone) pair, or nil when none exists.
	FindExistingByIdentity(ctx context.Context, jobID, email, phone string) (*model.Record, error)
	PersistRecord(ctx context.Context, rec *model.Record) error
	ListRecords(ctx context.Context, jobID string, filter model.RecordFilter) ([]model.Record, error)

	SaveRawData(ctx context.Context, raw *model.RawData) error

	Migrate(ctx context.Context) error
	Close() error
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000

	cancelledMessage = "cancelled"
)

func checkTransition(from, to model.JobStatus) error {
	if to == model.JobStatusPending {
		return eris.Wrap(ErrInvalidTransition, "use RetryJob to requeue a job")
	}
	if !from.CanTransition(to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

// processingProgress bounds progress written while a job is running.
// Only the completed transition sets 100.
func processingProgress(p int) int {
	return max(0, min(p, 99))
}

func newID() string {
	return uuid.New().String()
}

// placeholder renders the nth (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func question(int) string { return "?" }

// jobFilterClause builds the WHERE/LIMIT tail shared by both ListJobs
// implementations.
func jobFilterClause(f model.JobFilter, ph placeholder) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, ph(len(args))))
	}
	if f.Status != "" {
		add("status = %s", string(f.Status))
	}
	if f.UserID != "" {
		add("user_id = %s", f.UserID)
	}
	if !f.CreatedAfter.IsZero() {
		add("created_at >= %s", f.CreatedAfter.UTC())
	}

	var b strings.Builder
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	args = append(args, clampLimit(f.Limit))
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id LIMIT %s", ph(len(args)))
	args = append(args, max(f.Offset, 0))
	fmt.Fprintf(&b, " OFFSET %s", ph(len(args)))
	return b.String(), args
}

// recordFilterClause builds the tail for ListRecords; the job id is
// always the first argument.
func recordFilterClause(jobID string, f model.RecordFilter, ph placeholder) (string, []any) {
	args := []any{jobID}
	var b strings.Builder
	fmt.Fprintf(&b, " WHERE job_id = %s", ph(1))
	if !f.IncludeDuplicates {
		b.WriteString(" AND is_duplicate = FALSE")
	}
	args = append(args, clampLimit(f.Limit))
	fmt.Fprintf(&b, " ORDER BY created_at, id LIMIT %s", ph(len(args)))
	args = append(args, max(f.Offset, 0))
	fmt.Fprintf(&b, " OFFSET %s", ph(len(args)))
	return b.String(), args
}

// transitionArgs computes the timestamp and progress side effects of a
// status change.
func transitionArgs(to model.JobStatus, now time.Time) (startedAt, completedAt *time.Time, progressFloor int) {
	switch to {
	case model.JobStatusProcessing:
		startedAt = &now
	case model.JobStatusCompleted:
		completedAt = &now
		progressFloor = 100
	case model.JobStatusFailed:
		completedAt = &now
	}
	return startedAt, completedAt, progressFloor
}

func addStats(st *model.JobStats, status model.JobStatus, count, total, processed, failed int) {
	switch status {
	case model.JobStatusPending:
		st.Pending += count
	case model.JobStatusProcessing:
		st.Processing += count
	case model.JobStatusCompleted:
		st.Completed += count
	case model.JobStatusFailed:
		st.Failed += count
	}
	st.TotalRecords += total
	st.ProcessedRecords += processed
	st.FailedTargets += failed
}

func prepareJob(job *model.Job, now time.Time) error {
	if job == nil {
		return eris.New("store: nil job")
	}
	if job.ID == "" {
		job.ID = newID()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if !job.Status.Valid() {
		return eris.Errorf("store: invalid status %q", job.Status)
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func prepareRecord(rec *model.Record, now time.Time) error {
	if rec == nil {
		return eris.New("store: nil record")
	}
	if rec.JobID == "" {
		return eris.New("store: record without job id")
	}
	if rec.ID == "" {
		rec.ID = newID()
	}
	rec.Confidence = model.RoundConfidence(rec.Confidence)
	rec.CreatedAt = now
	return nil
}

func prepareRawData(raw *model.RawData, now time.Time) error {
	if raw == nil {
		return eris.New("store: nil raw data")
	}
	if raw.JobID == "" {
		return eris.New("store: raw data without job id")
	}
	if raw.ID == "" {
		raw.ID = newID()
	}
	raw.CreatedAt = now
	return nil
}
