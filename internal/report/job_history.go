package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"report-pipeline/internal/models"
)

const (
	jobHistoryType     = "job_history"
	jobHistoryMaxLimit = 500000
	// Rough per-row generation cost used for duration estimates.
	jobHistoryRowCost = 500 * time.Microsecond
)

type jobHistoryCriteria struct {
	OwnerID string     `json:"owner_id"`
	ScopeID string     `json:"scope_id"`
	Status  string     `json:"status"`
	Since   *time.Time `json:"since"`
	Limit   int64      `json:"limit"`
}

// JobHistoryStrategy reports on the job table itself: which reports were
// requested, by whom, and how they ended.
type JobHistoryStrategy struct {
	pool *pgxpool.Pool
}

func NewJobHistoryStrategy(pool *pgxpool.Pool) *JobHistoryStrategy {
	return &JobHistoryStrategy{pool: pool}
}

func (s *JobHistoryStrategy) Type() string { return jobHistoryType }

func (s *JobHistoryStrategy) Validate(criteria json.RawMessage) error {
	c, err := decodeJobHistoryCriteria(criteria)
	if err != nil {
		return err
	}
	if c.Limit < 0 {
		return &ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if c.Limit > jobHistoryMaxLimit {
		return &ValidationError{Field: "limit", Message: fmt.Sprintf("must not exceed %d", jobHistoryMaxLimit)}
	}
	switch c.Status {
	case "", models.StatusQueued, models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
	default:
		return &ValidationError{Field: "status", Message: "unknown status " + c.Status}
	}
	return nil
}

func (s *JobHistoryStrategy) EstimateCost(ctx context.Context, criteria json.RawMessage) (models.CostEstimate, error) {
	c, err := decodeJobHistoryCriteria(criteria)
	if err != nil {
		return models.CostEstimate{}, err
	}

	where, args := jobHistoryFilter(c)
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&count); err != nil {
		return models.CostEstimate{}, fmt.Errorf("count jobs: %w", err)
	}
	if c.Limit > 0 && count > c.Limit {
		count = c.Limit
	}
	return models.CostEstimate{
		Records:  count,
		Duration: time.Duration(count)*jobHistoryRowCost + 50*time.Millisecond,
	}, nil
}

func (s *JobHistoryStrategy) Generate(ctx context.Context, criteria json.RawMessage) (*models.TabularData, error) {
	c, err := decodeJobHistoryCriteria(criteria)
	if err != nil {
		return nil, err
	}
	limit := c.Limit
	if limit <= 0 {
		limit = jobHistoryMaxLimit
	}

	where, args := jobHistoryFilter(c)
	query := `
		SELECT id, report_type, owner_id, scope_id, status, requested_at, completed_at, error_text
		FROM jobs` + where + fmt.Sprintf(` ORDER BY requested_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	data := &models.TabularData{
		Columns: []string{"job_id", "report_type", "owner_id", "scope_id", "status", "requested_at", "completed_at", "error"},
	}
	for rows.Next() {
		var (
			id, reportType, ownerID, scopeID, status string

			requestedAt time.Time
			completedAt pgtype.Timestamptz
			errorText   pgtype.Text
		)
		if err := rows.Scan(&id, &reportType, &ownerID, &scopeID, &status, &requestedAt, &completedAt, &errorText); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		completed := ""
		if completedAt.Valid {
			completed = completedAt.Time.UTC().Format(time.RFC3339)
		}
		data.Rows = append(data.Rows, []string{
			id, reportType, ownerID, scopeID, status,
			requestedAt.UTC().Format(time.RFC3339), completed, errorText.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return data, nil
}

func decodeJobHistoryCriteria(criteria json.RawMessage) (jobHistoryCriteria, error) {
	var c jobHistoryCriteria
	if len(criteria) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(criteria, &c); err != nil {
		return c, Validationf("malformed criteria: %v", err)
	}
	return c, nil
}

func jobHistoryFilter(c jobHistoryCriteria) (string, []any) {
	where := ""
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		cond := fmt.Sprintf(clause, len(args))
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	if c.OwnerID != "" {
		add("owner_id = $%d", c.OwnerID)
	}
	if c.ScopeID != "" {
		add("scope_id = $%d", c.ScopeID)
	}
	if c.Status != "" {
		add("status = $%d", c.Status)
	}
	if c.Since != nil {
		add("requested_at >= $%d", *c.Since)
	}
	return where, args
}
