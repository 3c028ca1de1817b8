package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"report-pipeline/internal/models"
)

// IntentStore persists the notification intent before any delivery attempt.
type IntentStore interface {
	InsertNotificationIntent(ctx context.Context, jobID, ownerID, downloadURL string) (int64, error)
	MarkNotificationDelivered(ctx context.Context, id int64) error
}

// Notifier tells an external delivery channel (a webhook) that a report is
// ready. The consumer treats the whole call as fire-and-forget: whatever
// happens in here, the job stays completed.
type Notifier struct {
	intents    IntentStore
	webhookURL string
	client     *http.Client
	retryLimit int
	logger     zerolog.Logger
}

func New(intents IntentStore, webhookURL string, timeout time.Duration, retryLimit int, logger zerolog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retryLimit < 0 {
		retryLimit = 0
	}
	return &Notifier{
		intents:    intents,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		retryLimit: retryLimit,
		logger:     logger,
	}
}

type completionMessage struct {
	JobID       string     `json:"job_id"`
	ReportType  string     `json:"report_type"`
	OwnerID     string     `json:"owner_id"`
	DownloadURL string     `json:"download_url"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ReportCompleted persists the intent and posts the webhook. The returned
// error is informational; callers log it and move on.
func (n *Notifier) ReportCompleted(ctx context.Context, job models.Job, downloadURL string) error {
	intentID, err := n.intents.InsertNotificationIntent(ctx, job.ID, job.OwnerID, downloadURL)
	if err != nil {
		return err
	}

	if n.webhookURL == "" {
		n.logger.Debug().Str("job_id", job.ID).Msg("no notify webhook configured, intent persisted only")
		return nil
	}

	body, err := json.Marshal(completionMessage{
		JobID:       job.ID,
		ReportType:  job.ReportType,
		OwnerID:     job.OwnerID,
		DownloadURL: downloadURL,
		CompletedAt: job.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	attempts := n.retryLimit + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := n.post(ctx, body); err != nil {
			lastErr = err
			if attempt < attempts-1 {
				// Linear backoff, these are cheap webhook posts.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
				}
			}
			continue
		}
		if err := n.intents.MarkNotificationDelivered(ctx, intentID); err != nil {
			n.logger.Warn().Err(err).Str("job_id", job.ID).Msg("notification delivered but intent not marked")
		}
		return nil
	}
	return fmt.Errorf("post notification after %d attempts: %w", attempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
