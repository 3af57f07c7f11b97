package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/queue"
	"github.com/sells-group/leadgen-cli/internal/store"
)

func strPtr(s string) *string { return &s }

func TestFormatJobsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	jobs := []model.Job{
		{
			ID:               "abc12345-6789-0000-0000-000000000000",
			Source:           model.SourceWebSearch,
			Status:           model.JobStatusCompleted,
			Progress:         100,
			TotalRecords:     12,
			ProcessedRecords: 10,
			FailedRecords:    1,
			CreatedAt:        now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Source:    model.SourceURLs,
			Status:    model.JobStatusFailed,
			Error:     "targets: web search is not configured for this deployment",
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "web_search")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "10/12")
	assert.Contains(t, out, "2025-06-15 10:30")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "...")
}

func TestFormatRecordsList(t *testing.T) {
	records := []model.Record{
		{
			BusinessName: strPtr("Acme Plumbing"),
			Email:        strPtr("info@acme.example"),
			Phone:        strPtr("+15125550134"),
			Confidence:   0.92,
		},
		{
			Email:       strPtr("info@acme.example"),
			Confidence:  0.5,
			IsDuplicate: true,
		},
	}

	var buf bytes.Buffer
	formatRecordsList(&buf, records)

	out := buf.String()
	assert.Contains(t, out, "Acme Plumbing")
	assert.Contains(t, out, "+15125550134")
	assert.Contains(t, out, "0.92")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "-")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestRetryJob(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	st, err := openStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	q := queue.NewMemory(4)
	defer q.Close() //nolint:errcheck

	job := &model.Job{Source: model.SourceURLs, SourceURLs: []string{"https://acme.example"}}
	require.NoError(t, st.CreateJob(ctx, job))

	// Only failed jobs can be retried.
	_, err = retryJob(ctx, st, q, job.ID)
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrInvalidTransition))

	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessing, ""))
	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusProcessing, model.JobStatusFailed, "boom"))

	got, err := retryJob(ctx, st, q, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, 1, q.Len())

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.EnqueuedAt)
	assert.Empty(t, stored.Error)
}
