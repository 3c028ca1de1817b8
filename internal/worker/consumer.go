package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"report-pipeline/internal/artifact"
	"report-pipeline/internal/config"
	"report-pipeline/internal/models"
	"report-pipeline/internal/render"
	"report-pipeline/internal/report"
	"report-pipeline/internal/store"
	"report-pipeline/internal/telemetry"
)

// How often the queued-but-never-dispatched reconciliation sweep runs.
const redispatchInterval = 30 * time.Second

// JobStore is the persistence seam the consumer drives the state machine
// through. The conditional updates it exposes are the only concurrency
// control in the pipeline.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	ClaimProcessing(ctx context.Context, id string, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id, artifactLocation, filename string, at time.Time) error
	MarkFailed(ctx context.Context, id, errText string, at time.Time) error
	ListOverdueQueued(ctx context.Context, before time.Time, limit int) ([]string, error)
	AppendEvent(ctx context.Context, jobID, event, detail string) error
}

// Queue is the dispatch-queue seam.
type Queue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, jobID string) error
	Enqueue(ctx context.Context, jobID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	DLQPush(ctx context.Context, jobID string) error
	ReadyDepth(ctx context.Context) (int64, error)
}

// TokenIssuer wraps a presigned URL in an opaque download handle.
type TokenIssuer interface {
	Issue(ctx context.Context, job models.Job, targetURL string, targetExpiry time.Time) (models.DownloadToken, error)
}

// Notifier signals report completion. Best-effort from the consumer's side.
type Notifier interface {
	ReportCompleted(ctx context.Context, job models.Job, downloadURL string) error
}

// TokenSweeper garbage-collects expired download tokens.
type TokenSweeper interface {
	SweepExpired(ctx context.Context)
}

// Consumer executes dispatched report jobs. Messages arrive at-least-once
// and possibly concurrently for the same job; the claim on the job row is
// what makes execution happen once.
type Consumer struct {
	cfg       config.Config
	queue     Queue
	jobs      JobStore
	registry  *report.Registry
	renderer  render.Renderer
	artifacts artifact.Store
	tokens    TokenIssuer
	notifier  Notifier
	sweeper   TokenSweeper
	logger    zerolog.Logger

	lastRedispatch time.Time
	lastTokenSweep time.Time
}

func NewConsumer(cfg config.Config, q Queue, jobs JobStore, registry *report.Registry, renderer render.Renderer,
	artifacts artifact.Store, tokens TokenIssuer, notifier Notifier, sweeper TokenSweeper, logger zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:       cfg,
		queue:     q,
		jobs:      jobs,
		registry:  registry,
		renderer:  renderer,
		artifacts: artifacts,
		tokens:    tokens,
		notifier:  notifier,
		sweeper:   sweeper,
		logger:    logger,
	}
}

// Run polls the dispatch queue until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.reclaimExpired(ctx)
		c.redispatchOverdue(ctx)
		c.sweepTokens(ctx)
		if depth, err := c.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobID, err := c.queue.DequeueWithLease(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("dequeue failed")
			sleepCtx(ctx, c.cfg.WorkerPollInterval)
			continue
		}
		if jobID == "" {
			sleepCtx(ctx, c.cfg.WorkerPollInterval)
			continue
		}

		c.Process(ctx, jobID)
	}
}

// Process handles one dispatch message. It never returns an error to the
// queue loop: terminal outcomes are persisted on the job row, and transient
// ones are retried through lease expiry by simply not acking.
func (c *Consumer) Process(ctx context.Context, jobID string) {
	logger := c.logger.With().Str("job_id", jobID).Logger()

	job, err := c.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		// A dispatched id with no row is unrecoverable. Ack so it is
		// never redelivered, log, and move on.
		logger.Warn().Msg("dispatch message references missing job, dropping")
		telemetry.JobsDropped.Inc()
		_ = c.queue.Ack(ctx, jobID)
		return
	}
	if err != nil {
		// Transient load failure: keep the lease, redelivery retries.
		logger.Error().Err(err).Msg("load job failed, leaving message for redelivery")
		return
	}

	if job.Terminal() || job.Status == models.StatusProcessing {
		// Duplicate delivery, or another worker already owns the job.
		logger.Debug().Str("status", job.Status).Msg("skipping redelivered job")
		_ = c.queue.Ack(ctx, jobID)
		return
	}

	startedAt := time.Now().UTC()
	claimed, err := c.jobs.ClaimProcessing(ctx, jobID, startedAt)
	if err != nil {
		logger.Error().Err(err).Msg("claim failed, leaving message for redelivery")
		return
	}
	if !claimed {
		// Lost the race against a concurrent delivery.
		_ = c.queue.Ack(ctx, jobID)
		return
	}
	job.Status = models.StatusProcessing
	job.StartedAt = &startedAt
	_ = c.jobs.AppendEvent(ctx, jobID, "processing", "claimed by worker")

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	if err := c.execute(ctx, &job); err != nil {
		logger.Error().Err(err).Msg("report generation failed")
		c.fail(ctx, jobID, err)
		// The FAILED row is the durable record; the DLQ entry only
		// feeds queue-level bookkeeping.
		_ = c.queue.DLQPush(ctx, jobID)
		_ = c.queue.Ack(ctx, jobID)
		telemetry.JobsFailed.Inc()
		return
	}

	_ = c.queue.Ack(ctx, jobID)
	telemetry.JobsCompleted.Inc()
	logger.Info().Msg("report job completed")
}

// execute runs generation through artifact upload, token issue, and the
// completed transition. Notification happens after the row is completed and
// cannot affect the outcome.
func (c *Consumer) execute(ctx context.Context, job *models.Job) error {
	strategy, err := c.registry.Lookup(job.ReportType)
	if err != nil {
		return err
	}

	// Criteria deserialization happens inside the strategy; a decode
	// failure is just another generation failure.
	data, err := strategy.Generate(ctx, job.Criteria)
	if err != nil {
		return &report.GenerationError{ReportType: job.ReportType, Err: err}
	}

	var buf bytes.Buffer
	if err := c.renderer.Render(&buf, data); err != nil {
		return fmt.Errorf("render artifact: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.%s", job.ReportType, job.ID, c.renderer.Extension())
	location, err := c.artifacts.Put(ctx, job.ScopeID, job.ID, filename, buf.Bytes(), c.renderer.ContentType())
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}

	url, urlExpiry, err := c.artifacts.Presign(ctx, location, c.cfg.PresignTTL)
	if err != nil {
		return fmt.Errorf("presign artifact: %w", err)
	}

	token, err := c.tokens.Issue(ctx, *job, url, urlExpiry)
	if err != nil {
		return fmt.Errorf("issue download token: %w", err)
	}

	completedAt := time.Now().UTC()
	if err := c.jobs.MarkCompleted(ctx, job.ID, location, filename, completedAt); err != nil {
		return err
	}
	job.Status = models.StatusCompleted
	job.CompletedAt = &completedAt
	job.ArtifactLocation = &location
	job.Filename = &filename
	_ = c.jobs.AppendEvent(ctx, job.ID, "completed", fmt.Sprintf("artifact=%s records=%d", location, data.RecordCount()))

	c.notifyBestEffort(ctx, *job, c.cfg.PublicBaseURL+"/r/"+token.Token)
	return nil
}

// fail persists the terminal failure. It must never itself blow up: if the
// write fails there is nothing left to do but log, so the original error
// stays the visible one.
func (c *Consumer) fail(ctx context.Context, jobID string, cause error) {
	if err := c.jobs.MarkFailed(ctx, jobID, cause.Error(), time.Now().UTC()); err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).
			Msg("could not persist job failure, giving up")
		return
	}
	_ = c.jobs.AppendEvent(ctx, jobID, "failed", cause.Error())
}

func (c *Consumer) notifyBestEffort(ctx context.Context, job models.Job, downloadURL string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Any("panic", r).Str("job_id", job.ID).Msg("notifier panicked")
			telemetry.NotifyFailures.Inc()
		}
	}()
	if c.notifier == nil {
		return
	}
	if err := c.notifier.ReportCompleted(ctx, job, downloadURL); err != nil {
		telemetry.NotifyFailures.Inc()
		c.logger.Warn().Err(err).Str("job_id", job.ID).
			Msg("notification dispatch failed, job remains completed")
	}
}

// reclaimExpired puts timed-out leases back on the ready list.
func (c *Consumer) reclaimExpired(ctx context.Context) {
	reclaimed, err := c.queue.RequeueExpired(ctx, time.Now(), 100)
	if err != nil {
		c.logger.Warn().Err(err).Msg("lease reclaim failed")
		return
	}
	for _, id := range reclaimed {
		c.logger.Info().Str("job_id", id).Msg("lease expired, message requeued")
		_ = c.jobs.AppendEvent(ctx, id, "redelivery_scheduled", "visibility timeout elapsed")
	}
}

// redispatchOverdue is the outbox reconciliation: jobs committed as queued
// whose dispatch never happened (enqueue error, producer crash between
// commit and enqueue) are re-enqueued. Duplicates are absorbed by the claim.
func (c *Consumer) redispatchOverdue(ctx context.Context) {
	if time.Since(c.lastRedispatch) < redispatchInterval {
		return
	}
	c.lastRedispatch = time.Now()

	ids, err := c.jobs.ListOverdueQueued(ctx, time.Now().Add(-c.cfg.DispatchOverdue), 100)
	if err != nil {
		c.logger.Warn().Err(err).Msg("overdue queued scan failed")
		return
	}
	for _, id := range ids {
		if err := c.queue.Enqueue(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("job_id", id).Msg("redispatch enqueue failed")
			continue
		}
		c.logger.Info().Str("job_id", id).Msg("redispatched overdue queued job")
		_ = c.jobs.AppendEvent(ctx, id, "redispatched", "dispatch overdue")
	}
}

func (c *Consumer) sweepTokens(ctx context.Context) {
	if c.sweeper == nil || time.Since(c.lastTokenSweep) < c.cfg.TokenSweepInterval {
		return
	}
	c.lastTokenSweep = time.Now()
	c.sweeper.SweepExpired(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
