package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"report-pipeline/internal/models"
)

// ErrJobNotFound is returned when no job row exists for an id.
var ErrJobNotFound = errors.New("job not found")

// Persisted error text is bounded so a failing strategy cannot bloat the row.
const maxErrorTextLen = 2000

// Store wraps pgxpool for Postgres persistence. It owns the job, threshold,
// download token, and notification intent tables.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for strategies that run their own SQL.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// CreateJob inserts a queued job row inside its own transaction. The caller
// enqueues the dispatch message only after this returns, so a consumer can
// never observe a dispatched id with no row behind it.
func (s *Store) CreateJob(ctx context.Context, job models.Job) error {
	if !json.Valid(job.Criteria) {
		return fmt.Errorf("job criteria is not valid JSON")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, owner_id, scope_id, report_type, criteria, status, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, job.ID, job.OwnerID, job.ScopeID, job.ReportType, job.Criteria, job.Status, job.RequestedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job insert: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, scope_id, report_type, criteria, status,
		       requested_at, started_at, completed_at,
		       artifact_location, filename, error_text, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var criteria []byte
	var startedAt, completedAt pgtype.Timestamptz
	var location, filename, errorText pgtype.Text

	err := row.Scan(&job.ID, &job.OwnerID, &job.ScopeID, &job.ReportType, &criteria, &job.Status,
		&job.RequestedAt, &startedAt, &completedAt, &location, &filename, &errorText, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Criteria = criteria
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	job.ArtifactLocation = textPtr(location)
	job.Filename = textPtr(filename)
	job.ErrorText = textPtr(errorText)
	return job, nil
}

// ClaimProcessing is the consumer's idempotency guard: it transitions
// queued → processing with a single conditional UPDATE and reports whether
// this caller won the claim. A duplicate delivery, or a second worker racing
// the first, sees false and walks away.
func (s *Store) ClaimProcessing(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, models.StatusProcessing, at, models.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted finishes a processing job with its artifact coordinates and
// clears any stale error text.
func (s *Store) MarkCompleted(ctx context.Context, id, artifactLocation, filename string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, completed_at = $3, updated_at = $3,
		    artifact_location = $4, filename = $5, error_text = NULL
		WHERE id = $1 AND status = $6
	`, id, models.StatusCompleted, at, artifactLocation, filename, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job completed: job %s not in processing state", id)
	}
	return nil
}

// MarkFailed records a terminal failure with a bounded error message.
func (s *Store) MarkFailed(ctx context.Context, id, errText string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, completed_at = $3, updated_at = $3, error_text = $4
		WHERE id = $1 AND status = $5
	`, id, models.StatusFailed, at, truncateError(errText), models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job failed: job %s not in processing state", id)
	}
	return nil
}

// ListOverdueQueued returns ids of jobs still queued past the dispatch
// window. The worker's reconciliation sweep re-enqueues them, covering an
// enqueue that failed or a producer that died between commit and enqueue.
func (s *Store) ListOverdueQueued(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM jobs
		WHERE status = $1 AND requested_at < $2
		ORDER BY requested_at
		LIMIT $3
	`, models.StatusQueued, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue queued jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendEvent adds an audit row. Audit failures are not worth failing a job
// over, so callers typically ignore the error after logging.
func (s *Store) AppendEvent(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_events (job_id, event, detail, recorded_at)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

func truncateError(s string) string {
	if len(s) > maxErrorTextLen {
		return s[:maxErrorTextLen]
	}
	return s
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
