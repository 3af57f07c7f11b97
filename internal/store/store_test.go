package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestJobFilterClause(t *testing.T) {
	t.Parallel()
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tail, args := jobFilterClause(model.JobFilter{
		Status: model.JobStatusFailed, UserID: "u1", CreatedAfter: since, Limit: 5000, Offset: -3,
	}, dollar)

	assert.Equal(t, " WHERE status = $1 AND user_id = $2 AND created_at >= $3 ORDER BY created_at DESC, id LIMIT $4 OFFSET $5", tail)
	assert.Equal(t, []any{"failed", "u1", since, maxListLimit, 0}, args)
}

func TestJobFilterClause_Empty(t *testing.T) {
	t.Parallel()
	tail, args := jobFilterClause(model.JobFilter{}, question)

	assert.Equal(t, " ORDER BY created_at DESC, id LIMIT ? OFFSET ?", tail)
	assert.Equal(t, []any{defaultListLimit, 0}, args)
}

func TestRecordFilterClause(t *testing.T) {
	t.Parallel()
	tail, args := recordFilterClause("job-1", model.RecordFilter{Limit: 10, Offset: 20}, dollar)
	assert.Equal(t, " WHERE job_id = $1 AND is_duplicate = FALSE ORDER BY created_at, id LIMIT $2 OFFSET $3", tail)
	assert.Equal(t, []any{"job-1", 10, 20}, args)

	tail, _ = recordFilterClause("job-1", model.RecordFilter{IncludeDuplicates: true}, question)
	assert.NotContains(t, tail, "is_duplicate")
}

func TestTransitionArgs(t *testing.T) {
	t.Parallel()
	now := time.Now()

	started, completed, floor := transitionArgs(model.JobStatusProcessing, now)
	assert.NotNil(t, started)
	assert.Nil(t, completed)
	assert.Zero(t, floor)

	started, completed, floor = transitionArgs(model.JobStatusCompleted, now)
	assert.Nil(t, started)
	assert.NotNil(t, completed)
	assert.Equal(t, 100, floor)

	_, completed, floor = transitionArgs(model.JobStatusFailed, now)
	assert.NotNil(t, completed)
	assert.Zero(t, floor)
}

func TestProcessingProgress(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, processingProgress(-5))
	assert.Equal(t, 42, processingProgress(42))
	assert.Equal(t, 99, processingProgress(100))
}
