package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal      int     `json:"jobs_total"`
	JobsPending    int     `json:"jobs_pending"`
	JobsProcessing int     `json:"jobs_processing"`
	JobsCompleted  int     `json:"jobs_completed"`
	JobsFailed     int     `json:"jobs_failed"`
	JobFailRate    float64 `json:"job_fail_rate"`

	// Record metrics (within lookback window).
	TotalRecords     int     `json:"total_records"`
	ProcessedRecords int     `json:"processed_records"`
	DuplicateRecords int     `json:"duplicate_records"`
	FailedTargets    int     `json:"failed_targets"`
	DuplicateRate    float64 `json:"duplicate_rate"`

	// Queue dead-letter depth; -1 when the queue cannot report it.
	DeadLetters int64 `json:"dead_letters"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource is the store query the collector needs.
type StatsSource interface {
	JobStats(ctx context.Context, since time.Time) (*model.JobStats, error)
}

// DeadLetterCounter reports the queue's dead-letter depth.
type DeadLetterCounter interface {
	DeadLetterCount(ctx context.Context) (int64, error)
}

// Collector gathers metrics from the store and queue.
type Collector struct {
	stats StatsSource
	dlq   DeadLetterCounter
}

// NewCollector creates a new metrics collector. dlq may be nil.
func NewCollector(stats StatsSource, dlq DeadLetterCounter) *Collector {
	return &Collector{stats: stats, dlq: dlq}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
		DeadLetters:   -1,
	}

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)
	st, err := c.stats.JobStats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: job stats")
	}

	snap.JobsPending = st.Pending
	snap.JobsProcessing = st.Processing
	snap.JobsCompleted = st.Completed
	snap.JobsFailed = st.Failed
	snap.JobsTotal = st.Pending + st.Processing + st.Completed + st.Failed
	if finished := st.Completed + st.Failed; finished > 0 {
		snap.JobFailRate = float64(st.Failed) / float64(finished)
	}

	snap.TotalRecords = st.TotalRecords
	snap.ProcessedRecords = st.ProcessedRecords
	snap.DuplicateRecords = max(st.TotalRecords-st.ProcessedRecords, 0)
	snap.FailedTargets = st.FailedTargets
	if st.TotalRecords > 0 {
		snap.DuplicateRate = float64(snap.DuplicateRecords) / float64(st.TotalRecords)
	}

	if c.dlq != nil {
		n, err := c.dlq.DeadLetterCount(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count dead letters")
		}
		snap.DeadLetters = n
	}

	return snap, nil
}
