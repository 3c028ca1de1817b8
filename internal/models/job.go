package models

import (
	"encoding/json"
	"time"
)

// Job lifecycle states persisted in Postgres. The status column is the sole
// synchronization point between producer and consumers: every transition is a
// conditional UPDATE guarded by the current status.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is one report request tracked through the async pipeline.
//
// StartedAt is set only on the transition into processing, CompletedAt only
// on the transition into completed or failed. ArtifactLocation and Filename
// are non-nil exactly when the job is completed.
type Job struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	ScopeID          string          `json:"scope_id"`
	ReportType       string          `json:"report_type"`
	Criteria         json.RawMessage `json:"criteria"`
	Status           string          `json:"status"`
	RequestedAt      time.Time       `json:"requested_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ArtifactLocation *string         `json:"artifact_location,omitempty"`
	Filename         *string         `json:"filename,omitempty"`
	ErrorText        *string         `json:"error_text,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Terminal reports whether no further transitions are possible.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// JobEvent is an append-only audit row.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	Event      string    `json:"event"`
	Detail     string    `json:"detail"`
	RecordedAt time.Time `json:"recorded_at"`
}
