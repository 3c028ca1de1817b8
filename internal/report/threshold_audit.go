package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"report-pipeline/internal/models"
)

const thresholdAuditType = "threshold_audit"

// ThresholdAuditStrategy dumps the routing threshold configuration, giving
// operators a queryable snapshot of how report types are being routed.
type ThresholdAuditStrategy struct {
	pool *pgxpool.Pool
}

func NewThresholdAuditStrategy(pool *pgxpool.Pool) *ThresholdAuditStrategy {
	return &ThresholdAuditStrategy{pool: pool}
}

func (s *ThresholdAuditStrategy) Type() string { return thresholdAuditType }

// Validate accepts empty or any-JSON criteria; this report takes no inputs.
func (s *ThresholdAuditStrategy) Validate(criteria json.RawMessage) error {
	if len(criteria) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(criteria, &v); err != nil {
		return Validationf("malformed criteria: %v", err)
	}
	return nil
}

func (s *ThresholdAuditStrategy) EstimateCost(ctx context.Context, _ json.RawMessage) (models.CostEstimate, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM report_thresholds`).Scan(&count); err != nil {
		return models.CostEstimate{}, fmt.Errorf("count thresholds: %w", err)
	}
	return models.CostEstimate{Records: count, Duration: 50 * time.Millisecond}, nil
}

func (s *ThresholdAuditStrategy) Generate(ctx context.Context, _ json.RawMessage) (*models.TabularData, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT report_type, max_records, max_duration_ms, description, updated_at
		FROM report_thresholds ORDER BY report_type
	`)
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer rows.Close()

	data := &models.TabularData{
		Columns: []string{"report_type", "max_records", "max_duration_ms", "description", "updated_at"},
	}
	for rows.Next() {
		var (
			reportType, description string
			maxRecords, maxDuration int64
			updatedAt               time.Time
		)
		if err := rows.Scan(&reportType, &maxRecords, &maxDuration, &description, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan threshold row: %w", err)
		}
		data.Rows = append(data.Rows, []string{
			reportType,
			strconv.FormatInt(maxRecords, 10),
			strconv.FormatInt(maxDuration, 10),
			description,
			updatedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thresholds: %w", err)
	}
	return data, nil
}
