package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"report-pipeline/internal/models"
)

// GetThreshold returns the routing bounds for a report type. The second
// return is false when no row exists; callers fall back to defaults.
func (s *Store) GetThreshold(ctx context.Context, reportType string) (models.ThresholdConfig, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT report_type, max_records, max_duration_ms, description, updated_at
		FROM report_thresholds WHERE report_type = $1
	`, reportType)

	var cfg models.ThresholdConfig
	var durationMS int64
	err := row.Scan(&cfg.ReportType, &cfg.MaxRecords, &durationMS, &cfg.Description, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ThresholdConfig{}, false, nil
	}
	if err != nil {
		return models.ThresholdConfig{}, false, fmt.Errorf("scan threshold: %w", err)
	}
	cfg.MaxDuration = time.Duration(durationMS) * time.Millisecond
	return cfg, true, nil
}

// UpsertThreshold writes the routing bounds for a report type. Both bounds
// must be positive.
func (s *Store) UpsertThreshold(ctx context.Context, cfg models.ThresholdConfig) error {
	if cfg.MaxRecords <= 0 || cfg.MaxDuration <= 0 {
		return fmt.Errorf("threshold bounds must be positive")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO report_thresholds (report_type, max_records, max_duration_ms, description, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (report_type) DO UPDATE
		SET max_records = EXCLUDED.max_records,
		    max_duration_ms = EXCLUDED.max_duration_ms,
		    description = EXCLUDED.description,
		    updated_at = NOW()
	`, cfg.ReportType, cfg.MaxRecords, cfg.MaxDuration.Milliseconds(), cfg.Description)
	if err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}
	return nil
}
