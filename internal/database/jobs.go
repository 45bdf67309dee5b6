package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/taocrawl/marketplace-scraper/internal/models"
)

// ErrJobNotFound is returned by job lookups that match nothing.
var ErrJobNotFound = errors.New("job not found")

// JobRepository persists job records. Status writes are guarded so a job can
// never leave a terminal state, matching the state machine in models.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, platform, search_type, params, status, progress,
	results, error, created_at, started_at, completed_at`

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to encode job params: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO scrape_jobs (id, platform, search_type, params, status, progress, results, created_at)
		VALUES ($1, $2, $3, $4, $5, '{}', '{}', $6)
	`, job.ID, job.Platform, job.SearchType, params, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (*models.Job, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// List returns recent jobs, optionally narrowed by status.
func (r *JobRepository) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM scrape_jobs`
	args := []interface{}{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkRunning moves a pending job to running and stamps started_at.
func (r *JobRepository) MarkRunning(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE scrape_jobs SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3
	`, jobID, models.JobRunning, models.JobPending)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not pending", jobID)
	}
	return nil
}

// UpdateProgress writes the live counters; observers poll these.
func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	b, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE scrape_jobs SET progress = $2 WHERE id = $1`, jobID, b)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// Finish moves a job into a terminal state. The guard clause means a job
// already finalized (for example cancelled from the API while the run was
// still unwinding) keeps its first terminal state.
func (r *JobRepository) Finish(ctx context.Context, jobID string, status models.JobStatus, results models.JobResults, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish called with non-terminal status %s", status)
	}

	b, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = $2, results = $3, error = $4, completed_at = NOW()
		WHERE id = $1 AND status IN ($5, $6)
	`, jobID, status, b, errMsg, models.JobPending, models.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job      models.Job
		params   []byte
		progress []byte
		results  []byte
	)
	err := row.Scan(
		&job.ID, &job.Platform, &job.SearchType, &params, &job.Status,
		&progress, &results, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params of job %s: %w", job.ID, err)
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &job.Progress); err != nil {
			return nil, fmt.Errorf("failed to decode progress of job %s: %w", job.ID, err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &job.Results); err != nil {
			return nil, fmt.Errorf("failed to decode results of job %s: %w", job.ID, err)
		}
	}

	return &job, nil
}
