package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

const (
	defaultJobTable    = "harvest_jobs"
	defaultResultTable = "harvest_results"

	foreignKeyViolation = "23503"
)

// JobStore persists jobs and results in Postgres. Jobs in a terminal status
// are never modified again.
type JobStore struct {
	db      DB
	jobs    string
	results string
	clock   crawler.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewJobStore constructs a JobStore over db. clock may be nil.
func NewJobStore(db DB, cfg Config, clock crawler.Clock) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	jobs, err := tableName(cfg.JobTable, defaultJobTable)
	if err != nil {
		return nil, err
	}
	results, err := tableName(cfg.ResultTable, defaultResultTable)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &JobStore{db: db, jobs: jobs, results: results, clock: clock}, nil
}

// CreateJob inserts a queued job.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.Status == "" {
		job.Status = crawler.JobStatusQueued
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, progress, message, submitted_at, parameters, counters)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.jobs)
	_, err = s.db.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Progress,
		job.Message,
		job.Submitted,
		params,
		counters,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus applies update unless the job already finished.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, update crawler.StatusUpdate) error {
	// Zero counters keep the stored ones.
	var counters any
	if update.Counters != (crawler.JobCounters{}) {
		data, err := json.Marshal(update.Counters)
		if err != nil {
			return fmt.Errorf("marshal counters: %w", err)
		}
		counters = data
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $1::text,
	progress = CASE WHEN $2::int > 0 THEN $2::int ELSE progress END,
	message = CASE WHEN $3::text <> '' THEN $3::text ELSE message END,
	error_text = $4,
	counters = COALESCE($5::jsonb, counters),
	started_at = CASE WHEN $1::text = 'running' AND started_at IS NULL THEN $6 ELSE started_at END,
	finished_at = CASE WHEN $7::bool THEN $6 ELSE finished_at END
WHERE id = $8 AND status NOT IN ('succeeded', 'failed', 'canceled')`, s.jobs)
	tag, err := s.db.Exec(ctx, query,
		string(update.Status),
		update.Progress,
		update.Message,
		update.ErrorText,
		counters,
		s.clock.Now(),
		update.Status.Terminal(),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.jobs), jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup job status: %w", err)
	}
	if crawler.JobStatus(status).Terminal() {
		return crawler.ErrJobFinished
	}
	return fmt.Errorf("update job %s: no rows changed", jobID)
}

// SaveResult stores (or replaces) the result of a job.
func (s *JobStore) SaveResult(ctx context.Context, result crawler.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, payload, completed_at) VALUES ($1,$2,$3)
ON CONFLICT (job_id) DO UPDATE SET payload = EXCLUDED.payload, completed_at = EXCLUDED.completed_at`, s.results)
	if _, err := s.db.Exec(ctx, query, result.JobID, payload, result.CompletedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return crawler.ErrJobNotFound
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT status, progress, message, error_text, submitted_at, started_at, finished_at, parameters, counters
FROM %s
WHERE id = $1`, s.jobs)
	var (
		job      = crawler.Job{ID: jobID}
		status   string
		params   []byte
		counters []byte
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&status,
		&job.Progress,
		&job.Message,
		&job.ErrorText,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&params,
		&counters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode parameters: %w", err)
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &job.Counters); err != nil {
			return crawler.Job{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return job, nil
}

// GetResult returns the stored result for a job.
func (s *JobStore) GetResult(ctx context.Context, jobID string) (crawler.Result, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE job_id = $1`, s.results), jobID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.jobs)
		if err := s.db.QueryRow(ctx, query, jobID).Scan(&exists); err != nil {
			return crawler.Result{}, fmt.Errorf("lookup job: %w", err)
		}
		if !exists {
			return crawler.Result{}, crawler.ErrJobNotFound
		}
		return crawler.Result{}, crawler.ErrResultNotFound
	}
	if err != nil {
		return crawler.Result{}, fmt.Errorf("get result: %w", err)
	}
	var result crawler.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return crawler.Result{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}
