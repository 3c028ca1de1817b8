package models

import "time"

// TabularData is the shape every report strategy produces: a header row plus
// data rows. The byte-level artifact format is a renderer concern.
type TabularData struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// RecordCount returns the number of data rows.
func (d *TabularData) RecordCount() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// CostEstimate is a strategy's prediction of how expensive generation will be.
type CostEstimate struct {
	Records  int64
	Duration time.Duration
}

// ThresholdConfig bounds how large a report may be before its request is
// routed to the async path. Absence of a row for a type falls back to
// hard-coded defaults.
type ThresholdConfig struct {
	ReportType  string        `json:"report_type"`
	MaxRecords  int64         `json:"max_records"`
	MaxDuration time.Duration `json:"max_duration"`
	Description string        `json:"description"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
