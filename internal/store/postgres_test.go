package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var jobColumnNames = []string{
	"id", "user_id", "source", "keyword", "location", "source_urls", "file_uri", "status", "progress",
	"total_records", "processed_records", "failed_records", "cancel_requested", "error",
	"created_at", "updated_at", "started_at", "completed_at", "enqueued_at",
}

func jobRow(id string, status model.JobStatus, progress int) *pgxmock.Rows {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	var started *time.Time
	if status != model.JobStatusPending {
		started = &now
	}
	return pgxmock.NewRows(jobColumnNames).AddRow(
		id, "user-1", "urls", "", "", []string{"https://acme.example"}, "", string(status), progress,
		0, 0, 0, false, "", now, now, started, nil, nil,
	)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS jobs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "user-1", "web_search", "plumbers", "Austin, TX", []string{}, "",
			"pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job := &model.Job{UserID: "user-1", Source: model.SourceWebSearch, Keyword: "plumbers", Location: "Austin, TX"}
	require.NoError(t, s.CreateJob(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", model.JobStatusProcessing, 40))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, []string{"https://acme.example"}, job.SourceURLs)
	assert.NotNil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_Completed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs("completed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 100, "", "job-1", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.TransitionJob(context.Background(), "job-1", model.JobStatusProcessing, model.JobStatusCompleted, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_WrongState(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))

	err := s.TransitionJob(context.Background(), "job-1", model.JobStatusProcessing, model.JobStatusCompleted, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnError(pgx.ErrNoRows)

	err := s.TransitionJob(context.Background(), "job-1", model.JobStatusPending, model.JobStatusProcessing, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobProgress_CapsBelowCompletion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET progress = GREATEST\(progress, \$1\)`).
		WithArgs(99, 10, 8, 1, pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateJobProgress(context.Background(), "job-1", model.JobCounters{
		Progress: 100, TotalRecords: 10, ProcessedRecords: 8, FailedRecords: 1,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistRecord_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO records`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_records_identity"})

	err := s.PersistRecord(context.Background(), record("job-1", "a@acme.example", "+15551234567", false))
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistRecord_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO records`).WillReturnError(errors.New("connection reset"))

	err := s.PersistRecord(context.Background(), record("job-1", "a@acme.example", "+15551234567", false))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateIdentity)
	assert.Contains(t, err.Error(), "persist record")
}

func TestPostgresStore_FindExistingByIdentity_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM records WHERE job_id = \$1 AND email = \$2 AND phone = \$3`).
		WithArgs("job-1", "a@acme.example", "+15551234567").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.FindExistingByIdentity(context.Background(), "job-1", "a@acme.example", "+15551234567")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindExistingByIdentity_NullSkipsQuery(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec, err := s.FindExistingByIdentity(context.Background(), "job-1", "a@acme.example", "")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RetryJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET status = 'pending'`).
		WithArgs(pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM records WHERE job_id = \$1`).WithArgs("job-1").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM raw_data WHERE job_id = \$1`).WithArgs("job-1").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", model.JobStatusPending, 0))

	job, err := s.RetryJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteJob_Processing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1 FOR UPDATE`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectRollback()

	err := s.DeleteJob(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStaleJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT id FROM jobs WHERE status = \$1 AND updated_at < \$2`).
		WithArgs("processing", cutoff.UTC()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-1").AddRow("job-2"))

	ids, err := s.ListStaleJobs(context.Background(), model.JobStatusProcessing, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_JobStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, count\(\*\)`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "total", "processed", "failed"}).
			AddRow("completed", 3, 40, 35, 2).
			AddRow("failed", 1, 5, 1, 4))

	st, err := s.JobStats(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, st.Completed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 45, st.TotalRecords)
	assert.Equal(t, 36, st.ProcessedRecords)
	assert.Equal(t, 6, st.FailedTargets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkEnqueued(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET enqueued_at = \$1`).
		WithArgs(pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkEnqueued(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
