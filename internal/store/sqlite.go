package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers and keeps the pragmas below
	// in effect for every statement.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL,
	keyword           TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	source_urls       TEXT NOT NULL DEFAULT '[]',
	file_uri          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	progress          INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
	total_records     INTEGER NOT NULL DEFAULT 0,
	processed_records INTEGER NOT NULL DEFAULT 0,
	failed_records    INTEGER NOT NULL DEFAULT 0,
	cancel_requested  BOOLEAN NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at        DATETIME,
	completed_at      DATETIME,
	enqueued_at       DATETIME
);

CREATE TABLE IF NOT EXISTS records (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	business_name TEXT,
	email         TEXT,
	phone         TEXT,
	address       TEXT,
	website       TEXT,
	source_url    TEXT NOT NULL,
	confidence    REAL NOT NULL DEFAULT 0,
	email_valid   BOOLEAN NOT NULL DEFAULT 0,
	phone_valid   BOOLEAN NOT NULL DEFAULT 0,
	is_duplicate  BOOLEAN NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS raw_data (
	id                 TEXT PRIMARY KEY,
	job_id             TEXT NOT NULL REFERENCES jobs(id),
	source_url         TEXT NOT NULL,
	content            TEXT,
	content_type       TEXT NOT NULL DEFAULT '',
	http_status        INTEGER NOT NULL DEFAULT 0,
	scrape_duration_ms INTEGER NOT NULL DEFAULT 0,
	user_agent         TEXT NOT NULL DEFAULT '',
	tos_compliant      BOOLEAN NOT NULL DEFAULT 1,
	requires_review    BOOLEAN NOT NULL DEFAULT 0,
	captcha_required   BOOLEAN NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_records_job_id ON records(job_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_identity ON records(job_id, email, phone)
	WHERE is_duplicate = 0 AND email IS NOT NULL AND phone IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_raw_data_job_id ON raw_data(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if err := prepareJob(job, time.Now().UTC()); err != nil {
		return err
	}
	urls := job.SourceURLs
	if urls == nil {
		urls = []string{}
	}
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal source urls")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, source, keyword, location, source_urls, file_uri, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, string(job.Source), job.Keyword, job.Location, string(urlsJSON), job.FileURI,
		string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: create job")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*model.Job, error) {
	var (
		j                      model.Job
		source, status, urls   string
		startedAt, completedAt sql.NullTime
		enqueuedAt             sql.NullTime
	)
	err := row.Scan(&j.ID, &j.UserID, &source, &j.Keyword, &j.Location, &urls, &j.FileURI,
		&status, &j.Progress, &j.TotalRecords, &j.ProcessedRecords, &j.FailedRecords,
		&j.CancelRequested, &j.Error, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt, &enqueuedAt)
	if err != nil {
		return nil, err
	}
	if urls != "" {
		if err := json.Unmarshal([]byte(urls), &j.SourceURLs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal source urls")
		}
	}
	if len(j.SourceURLs) == 0 {
		j.SourceURLs = nil
	}
	j.Source = model.JobSource(source)
	j.Status = model.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if enqueuedAt.Valid {
		t := enqueuedAt.Time
		j.EnqueuedAt = &t
	}
	return &j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	tail, args := jobFilterClause(filter, question)
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs`+tail, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, id string, from, to model.JobStatus, errMsg string) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	startedAt, completedAt, floor := transitionArgs(to, now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ?, started_at = COALESCE(?, started_at),
		completed_at = COALESCE(?, completed_at), progress = MAX(progress, ?), error = ?
		WHERE id = ? AND status = ?`,
		string(to), now, nullTime(startedAt), nullTime(completedAt), floor, errMsg, id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition job %s", id)
	}
	return s.checkConditional(ctx, res, id, from)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// checkConditional maps a conditional update that touched no rows to
// ErrNotFound or ErrInvalidTransition.
func (s *SQLiteStore) checkConditional(ctx context.Context, res sql.Result, id string, want model.JobStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	return s.explainMiss(ctx, id, want)
}

func (s *SQLiteStore) explainMiss(ctx context.Context, id string, want model.JobStatus) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: get job status %s", id)
	}
	return eris.Wrapf(ErrInvalidTransition, "job %s is %s, want %s", id, status, want)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, c model.JobCounters) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = MAX(progress, ?), total_records = ?, processed_records = ?,
		failed_records = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		processingProgress(c.Progress), c.TotalRecords, c.ProcessedRecords, c.FailedRecords,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", id)
	}
	return s.checkConditional(ctx, res, id, model.JobStatusProcessing)
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, id string) (*model.Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', cancel_requested = 1, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		cancelledMessage, now, now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: cancel pending job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = 'processing'`,
			now, id,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: cancel processing job %s", id)
		}
		if err := s.checkConditional(ctx, res, id, model.JobStatusProcessing); err != nil {
			return nil, err
		}
	}
	return s.GetJob(ctx, id)
}

func (s *SQLiteStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: cancel requested %s", id)
	}
	return requested, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) RetryJob(ctx context.Context, id string) (*model.Job, error) {
	var reset bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'pending', progress = 0, total_records = 0, processed_records = 0,
			failed_records = 0, cancel_requested = 0, error = '', started_at = NULL, completed_at = NULL,
			enqueued_at = NULL, updated_at = ? WHERE id = ? AND status = 'failed'`,
			time.Now().UTC(), id,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: reset job %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		reset = true
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE job_id = ?`, id); err != nil {
			return eris.Wrapf(err, "sqlite: clear records %s", id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM raw_data WHERE job_id = ?`, id); err != nil {
			return eris.Wrapf(err, "sqlite: clear raw data %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, s.explainMiss(ctx, id, model.JobStatusFailed)
	}
	return s.GetJob(ctx, id)
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "job %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: get job %s", id)
		}
		if model.JobStatus(status) == model.JobStatusProcessing {
			return eris.Wrapf(ErrInvalidTransition, "job %s is processing", id)
		}
		for _, q := range []string{
			`DELETE FROM records WHERE job_id = ?`,
			`DELETE FROM raw_data WHERE job_id = ?`,
			`DELETE FROM jobs WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return eris.Wrapf(err, "sqlite: delete job %s", id)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) MarkEnqueued(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET enqueued_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark enqueued %s", id)
	}
	return s.checkConditional(ctx, res, id, model.JobStatusPending)
}

func (s *SQLiteStore) ListStaleJobs(ctx context.Context, status model.JobStatus, olderThan time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = ? AND updated_at < ?
		AND (status <> 'pending' OR enqueued_at IS NOT NULL) ORDER BY updated_at`,
		string(status), olderThan.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale jobs")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stale job")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate stale jobs")
}

func (s *SQLiteStore) JobStats(ctx context.Context, since time.Time) (*model.JobStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*), COALESCE(sum(total_records), 0), COALESCE(sum(processed_records), 0),
		COALESCE(sum(failed_records), 0) FROM jobs WHERE created_at >= ? GROUP BY status`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: job stats")
	}
	defer rows.Close()

	st := &model.JobStats{}
	for rows.Next() {
		var (
			status                            string
			count, total, processed, failedTg int
		)
		if err := rows.Scan(&status, &count, &total, &processed, &failedTg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job stats")
		}
		addStats(st, model.JobStatus(status), count, total, processed, failedTg)
	}
	return st, eris.Wrap(rows.Err(), "sqlite: iterate job stats")
}

func scanSQLiteRecord(row rowScanner) (*model.Record, error) {
	var r model.Record
	err := row.Scan(&r.ID, &r.JobID, &r.BusinessName, &r.Email, &r.Phone, &r.Address, &r.Website,
		&r.SourceURL, &r.Confidence, &r.EmailValid, &r.PhoneValid, &r.IsDuplicate, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) FindExistingByIdentity(ctx context.Context, jobID, email, phone string) (*model.Record, error) {
	if email == "" || phone == "" {
		return nil, nil
	}
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE job_id = ? AND email = ? AND phone = ? AND is_duplicate = 0 LIMIT 1`,
		jobID, email, phone,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find identity for job %s", jobID)
	}
	return r, nil
}

func (s *SQLiteStore) PersistRecord(ctx context.Context, rec *model.Record) error {
	if err := prepareRecord(rec, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.BusinessName, rec.Email, rec.Phone, rec.Address, rec.Website,
		rec.SourceURL, rec.Confidence, rec.EmailValid, rec.PhoneValid, rec.IsDuplicate, rec.CreatedAt,
	)
	if isSQLiteUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateIdentity, "job %s", rec.JobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: persist record for job %s", rec.JobID)
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) && sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) ListRecords(ctx context.Context, jobID string, filter model.RecordFilter) ([]model.Record, error) {
	tail, args := recordFilterClause(jobID, filter, question)
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records`+tail, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records for job %s", jobID)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) SaveRawData(ctx context.Context, raw *model.RawData) error {
	if err := prepareRawData(raw, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_data (id, job_id, source_url, content, content_type, http_status, scrape_duration_ms,
		user_agent, tos_compliant, requires_review, captcha_required, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		raw.ID, raw.JobID, raw.SourceURL, raw.Content, string(raw.ContentType), raw.HTTPStatus, raw.DurationMs,
		raw.UserAgent, raw.TOSCompliant, raw.RequiresReview, raw.CaptchaRequired, raw.Error, raw.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save raw data for job %s", raw.JobID)
	}
	return nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
