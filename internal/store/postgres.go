package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/db"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

const (
	jobColumns = `id, user_id, source, keyword, location, source_urls, file_uri, status, progress,
	total_records, processed_records, failed_records, cancel_requested, error,
	created_at, updated_at, started_at, completed_at, enqueued_at`

	recordColumns = `id, job_id, business_name, email, phone, address, website, source_url,
	confidence, email_valid, phone_valid, is_duplicate, created_at`
)

// preparedStatements lists the hot-path queries run once per target.
var preparedStatements = map[string]string{
	"find_identity":        `SELECT ` + recordColumns + ` FROM records WHERE job_id = $1 AND email = $2 AND phone = $3 AND is_duplicate = FALSE LIMIT 1`,
	"job_cancel_requested": `SELECT cancel_requested FROM jobs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	var cfg db.PoolConfig
	if poolCfg != nil {
		cfg = *poolCfg
	}
	pool, err := db.Connect(ctx, connString, cfg, preparedStatements)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL,
	keyword           TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	source_urls       TEXT[] NOT NULL DEFAULT '{}',
	file_uri          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	progress          INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
	total_records     INTEGER NOT NULL DEFAULT 0,
	processed_records INTEGER NOT NULL DEFAULT 0,
	failed_records    INTEGER NOT NULL DEFAULT 0,
	cancel_requested  BOOLEAN NOT NULL DEFAULT FALSE,
	error             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	enqueued_at       TIMESTAMPTZ
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
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	email_valid   BOOLEAN NOT NULL DEFAULT FALSE,
	phone_valid   BOOLEAN NOT NULL DEFAULT FALSE,
	is_duplicate  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_data (
	id                 TEXT PRIMARY KEY,
	job_id             TEXT NOT NULL REFERENCES jobs(id),
	source_url         TEXT NOT NULL,
	content            TEXT,
	content_type       TEXT NOT NULL DEFAULT '',
	http_status        INTEGER NOT NULL DEFAULT 0,
	scrape_duration_ms BIGINT NOT NULL DEFAULT 0,
	user_agent         TEXT NOT NULL DEFAULT '',
	tos_compliant      BOOLEAN NOT NULL DEFAULT TRUE,
	requires_review    BOOLEAN NOT NULL DEFAULT FALSE,
	captcha_required   BOOLEAN NOT NULL DEFAULT FALSE,
	error              TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_job_id ON records(job_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_identity ON records(job_id, email, phone)
	WHERE is_duplicate = FALSE AND email IS NOT NULL AND phone IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_raw_data_job_id ON raw_data(job_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if err := prepareJob(job, time.Now().UTC()); err != nil {
		return err
	}
	urls := job.SourceURLs
	if urls == nil {
		urls = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, source, keyword, location, source_urls, file_uri, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.UserID, string(job.Source), job.Keyword, job.Location, urls, job.FileURI,
		string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: create job")
	}
	return nil
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var (
		j      model.Job
		source string
		status string
	)
	err := row.Scan(&j.ID, &j.UserID, &source, &j.Keyword, &j.Location, &j.SourceURLs, &j.FileURI,
		&status, &j.Progress, &j.TotalRecords, &j.ProcessedRecords, &j.FailedRecords,
		&j.CancelRequested, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.EnqueuedAt)
	if err != nil {
		return nil, err
	}
	j.Source = model.JobSource(source)
	j.Status = model.JobStatus(status)
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	tail, args := jobFilterClause(filter, dollar)
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs`+tail, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id string, from, to model.JobStatus, errMsg string) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	startedAt, completedAt, floor := transitionArgs(to, now)
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2, started_at = COALESCE($3, started_at),
		completed_at = COALESCE($4, completed_at), progress = GREATEST(progress, $5), error = $6
		WHERE id = $7 AND status = $8`,
		string(to), now, startedAt, completedAt, floor, errMsg, id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id, from)
	}
	return nil
}

// explainMiss distinguishes a missing job from one in the wrong state
// after a conditional update touched no rows.
func (s *PostgresStore) explainMiss(ctx context.Context, id string, want model.JobStatus) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: get job status %s", id)
	}
	return eris.Wrapf(ErrInvalidTransition, "job %s is %s, want %s", id, status, want)
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, c model.JobCounters) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = GREATEST(progress, $1), total_records = $2, processed_records = $3,
		failed_records = $4, updated_at = $5 WHERE id = $6 AND status = 'processing'`,
		processingProgress(c.Progress), c.TotalRecords, c.ProcessedRecords, c.FailedRecords,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id, model.JobStatusProcessing)
	}
	return nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, id string) (*model.Job, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', cancel_requested = TRUE, error = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'pending'`,
		cancelledMessage, now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: cancel pending job %s", id)
	}
	if tag.RowsAffected() == 0 {
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET cancel_requested = TRUE, updated_at = $1 WHERE id = $2 AND status = 'processing'`,
			now, id,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: cancel processing job %s", id)
		}
		if tag.RowsAffected() == 0 {
			return nil, s.explainMiss(ctx, id, model.JobStatusProcessing)
		}
	}
	return s.GetJob(ctx, id)
}

func (s *PostgresStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1`, id).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: cancel requested %s", id)
	}
	return requested, nil
}

func (s *PostgresStore) RetryJob(ctx context.Context, id string) (*model.Job, error) {
	var reset bool
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'pending', progress = 0, total_records = 0, processed_records = 0,
			failed_records = 0, cancel_requested = FALSE, error = '', started_at = NULL, completed_at = NULL,
			enqueued_at = NULL, updated_at = $1 WHERE id = $2 AND status = 'failed'`,
			time.Now().UTC(), id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: reset job %s", id)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		reset = true
		if _, err := tx.Exec(ctx, `DELETE FROM records WHERE job_id = $1`, id); err != nil {
			return eris.Wrapf(err, "postgres: clear records %s", id)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM raw_data WHERE job_id = $1`, id); err != nil {
			return eris.Wrapf(err, "postgres: clear raw data %s", id)
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

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "job %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lock job %s", id)
		}
		if model.JobStatus(status) == model.JobStatusProcessing {
			return eris.Wrapf(ErrInvalidTransition, "job %s is processing", id)
		}
		for _, q := range []string{
			`DELETE FROM records WHERE job_id = $1`,
			`DELETE FROM raw_data WHERE job_id = $1`,
			`DELETE FROM jobs WHERE id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return eris.Wrapf(err, "postgres: delete job %s", id)
			}
		}
		return nil
	})
}

func (s *PostgresStore) MarkEnqueued(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET enqueued_at = $1, updated_at = $1 WHERE id = $2 AND status = 'pending'`,
		now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark enqueued %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id, model.JobStatusPending)
	}
	return nil
}

func (s *PostgresStore) ListStaleJobs(ctx context.Context, status model.JobStatus, olderThan time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobs WHERE status = $1 AND updated_at < $2
		AND (status <> 'pending' OR enqueued_at IS NOT NULL) ORDER BY updated_at`,
		string(status), olderThan.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale jobs")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale job")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate stale jobs")
}

func (s *PostgresStore) JobStats(ctx context.Context, since time.Time) (*model.JobStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*), COALESCE(sum(total_records), 0), COALESCE(sum(processed_records), 0),
		COALESCE(sum(failed_records), 0) FROM jobs WHERE created_at >= $1 GROUP BY status`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: job stats")
	}
	defer rows.Close()

	st := &model.JobStats{}
	for rows.Next() {
		var (
			status                            string
			count, total, processed, failedTg int
		)
		if err := rows.Scan(&status, &count, &total, &processed, &failedTg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job stats")
		}
		addStats(st, model.JobStatus(status), count, total, processed, failedTg)
	}
	return st, eris.Wrap(rows.Err(), "postgres: iterate job stats")
}

func scanPgRecord(row pgx.Row) (*model.Record, error) {
	var r model.Record
	err := row.Scan(&r.ID, &r.JobID, &r.BusinessName, &r.Email, &r.Phone, &r.Address, &r.Website,
		&r.SourceURL, &r.Confidence, &r.EmailValid, &r.PhoneValid, &r.IsDuplicate, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) FindExistingByIdentity(ctx context.Context, jobID, email, phone string) (*model.Record, error) {
	if email == "" || phone == "" {
		return nil, nil
	}
	r, err := scanPgRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE job_id = $1 AND email = $2 AND phone = $3 AND is_duplicate = FALSE LIMIT 1`,
		jobID, email, phone,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find identity for job %s", jobID)
	}
	return r, nil
}

func (s *PostgresStore) PersistRecord(ctx context.Context, rec *model.Record) error {
	if err := prepareRecord(rec, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.JobID, rec.BusinessName, rec.Email, rec.Phone, rec.Address, rec.Website,
		rec.SourceURL, rec.Confidence, rec.EmailValid, rec.PhoneValid, rec.IsDuplicate, rec.CreatedAt,
	)
	if isPgUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateIdentity, "job %s", rec.JobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: persist record for job %s", rec.JobID)
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) ListRecords(ctx context.Context, jobID string, filter model.RecordFilter) ([]model.Record, error) {
	tail, args := recordFilterClause(jobID, filter, dollar)
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM records`+tail, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records for job %s", jobID)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) SaveRawData(ctx context.Context, raw *model.RawData) error {
	if err := prepareRawData(raw, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_data (id, job_id, source_url, content, content_type, http_status, scrape_duration_ms,
		user_agent, tos_compliant, requires_review, captcha_required, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		raw.ID, raw.JobID, raw.SourceURL, raw.Content, string(raw.ContentType), raw.HTTPStatus, raw.DurationMs,
		raw.UserAgent, raw.TOSCompliant, raw.RequiresReview, raw.CaptchaRequired, raw.Error, raw.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save raw data for job %s", raw.JobID)
	}
	return nil
}
