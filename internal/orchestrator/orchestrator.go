package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"report-pipeline/internal/models"
	"report-pipeline/internal/report"
	"report-pipeline/internal/telemetry"
)

// JobStore is the persistence seam the producer needs.
type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) error
	AppendEvent(ctx context.Context, jobID, event, detail string) error
}

// Dispatcher enqueues a dispatch message carrying a job id.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Decider is the routing decision, satisfied by router.Router.
type Decider interface {
	ShouldRouteAsync(ctx context.Context, reportType string, records int64, duration time.Duration) bool
}

// Submission statuses returned to the caller.
const (
	StatusCompleted = "completed"
	StatusQueued    = "queued"
)

// Result is the outcome of a submission: inline data for the sync path, a
// job id plus an estimated completion time for the async path.
type Result struct {
	Status              string              `json:"status"`
	Data                *models.TabularData `json:"data,omitempty"`
	TotalRecords        int                 `json:"total_records,omitempty"`
	JobID               string              `json:"job_id,omitempty"`
	EstimatedCompletion time.Time           `json:"estimated_completion,omitzero"`
}

// Orchestrator is the synchronous entry point of the pipeline: it validates,
// routes, and either generates inline or persists a queued job and enqueues
// its dispatch message.
type Orchestrator struct {
	registry        *report.Registry
	decider         Decider
	jobs            JobStore
	dispatch        Dispatcher
	queuedAllowance time.Duration
	logger          zerolog.Logger
}

func New(registry *report.Registry, decider Decider, jobs JobStore, dispatch Dispatcher, queuedAllowance time.Duration, logger zerolog.Logger) *Orchestrator {
	if queuedAllowance <= 0 {
		queuedAllowance = time.Minute
	}
	return &Orchestrator{
		registry:        registry,
		decider:         decider,
		jobs:            jobs,
		dispatch:        dispatch,
		queuedAllowance: queuedAllowance,
		logger:          logger,
	}
}

// Submit runs the producer pipeline. Errors before any persistence (unknown
// type, invalid criteria, sync generation failure) surface directly to the
// caller; no job row exists for them.
func (o *Orchestrator) Submit(ctx context.Context, reportType string, criteria json.RawMessage, ownerID, scopeID string) (Result, error) {
	strategy, err := o.registry.Lookup(reportType)
	if err != nil {
		return Result{}, err
	}
	if err := strategy.Validate(criteria); err != nil {
		return Result{}, err
	}

	estimate, err := strategy.EstimateCost(ctx, criteria)
	if err != nil {
		return Result{}, fmt.Errorf("estimate %s report cost: %w", reportType, err)
	}

	if !o.decider.ShouldRouteAsync(ctx, reportType, estimate.Records, estimate.Duration) {
		return o.generateInline(ctx, strategy, criteria)
	}
	return o.enqueueJob(ctx, reportType, criteria, ownerID, scopeID, estimate)
}

func (o *Orchestrator) generateInline(ctx context.Context, strategy report.Strategy, criteria json.RawMessage) (Result, error) {
	data, err := strategy.Generate(ctx, criteria)
	if err != nil {
		return Result{}, &report.GenerationError{ReportType: strategy.Type(), Err: err}
	}
	telemetry.ReportsSyncTotal.Inc()
	return Result{
		Status:       StatusCompleted,
		Data:         data,
		TotalRecords: data.RecordCount(),
	}, nil
}

func (o *Orchestrator) enqueueJob(ctx context.Context, reportType string, criteria json.RawMessage, ownerID, scopeID string, estimate models.CostEstimate) (Result, error) {
	if len(criteria) == 0 {
		criteria = json.RawMessage("{}")
	}
	now := time.Now().UTC()
	job := models.Job{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		ScopeID:     scopeID,
		ReportType:  reportType,
		Criteria:    criteria,
		Status:      models.StatusQueued,
		RequestedAt: now,
		UpdatedAt:   now,
	}

	// The insert transaction commits inside CreateJob; only then is the
	// dispatch message sent, so a worker can never see an id without a row.
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return Result{}, fmt.Errorf("persist job: %w", err)
	}

	if err := o.dispatch.Enqueue(ctx, job.ID); err != nil {
		// The row is committed, so the request is accepted regardless.
		// The worker's redispatch sweep picks up queued jobs whose
		// dispatch never landed.
		o.logger.Error().Err(err).Str("job_id", job.ID).
			Msg("dispatch enqueue failed, leaving job for redispatch sweep")
		_ = o.jobs.AppendEvent(ctx, job.ID, "dispatch_deferred", err.Error())
	} else {
		_ = o.jobs.AppendEvent(ctx, job.ID, "dispatched", fmt.Sprintf("owner=%s scope=%s", ownerID, scopeID))
	}

	telemetry.ReportsAsyncTotal.Inc()
	o.logger.Info().Str("job_id", job.ID).Str("report_type", reportType).
		Int64("est_records", estimate.Records).Dur("est_duration", estimate.Duration).
		Msg("report routed async")

	return Result{
		Status:              StatusQueued,
		JobID:               job.ID,
		EstimatedCompletion: now.Add(estimate.Duration + o.queuedAllowance),
	}, nil
}
