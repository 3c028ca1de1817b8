package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"report-pipeline/internal/artifact"
	"report-pipeline/internal/config"
	"report-pipeline/internal/models"
	"report-pipeline/internal/render"
	"report-pipeline/internal/report"
	"report-pipeline/internal/store"
)

type fakeJobStore struct {
	jobs   map[string]*models.Job
	events []string
}

func newFakeJobStore(jobs ...models.Job) *fakeJobStore {
	f := &fakeJobStore{jobs: map[string]*models.Job{}}
	for _, j := range jobs {
		job := j
		f.jobs[j.ID] = &job
	}
	return f
}

func (f *fakeJobStore) GetJob(_ context.Context, id string) (models.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return models.Job{}, store.ErrJobNotFound
	}
	return *j, nil
}

func (f *fakeJobStore) ClaimProcessing(_ context.Context, id string, at time.Time) (bool, error) {
	j, ok := f.jobs[id]
	if !ok || j.Status != models.StatusQueued {
		return false, nil
	}
	j.Status = models.StatusProcessing
	j.StartedAt = &at
	return true, nil
}

func (f *fakeJobStore) MarkCompleted(_ context.Context, id, location, filename string, at time.Time) error {
	j := f.jobs[id]
	if j.Status != models.StatusProcessing {
		return errors.New("not processing")
	}
	j.Status = models.StatusCompleted
	j.CompletedAt = &at
	j.ArtifactLocation = &location
	j.Filename = &filename
	j.ErrorText = nil
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, id, errText string, at time.Time) error {
	j, ok := f.jobs[id]
	if !ok || j.Status != models.StatusProcessing {
		return errors.New("not processing")
	}
	if len(errText) > 2000 {
		errText = errText[:2000]
	}
	j.Status = models.StatusFailed
	j.CompletedAt = &at
	j.ErrorText = &errText
	return nil
}

func (f *fakeJobStore) ListOverdueQueued(context.Context, time.Time, int) ([]string, error) {
	return nil, nil
}

func (f *fakeJobStore) AppendEvent(_ context.Context, jobID, event, _ string) error {
	f.events = append(f.events, jobID+":"+event)
	return nil
}

type fakeQueue struct {
	acked []string
	dlq   []string
}

func (f *fakeQueue) DequeueWithLease(context.Context) (string, error) { return "", nil }
func (f *fakeQueue) Enqueue(context.Context, string) error           { return nil }
func (f *fakeQueue) ReadyDepth(context.Context) (int64, error)       { return 0, nil }

func (f *fakeQueue) RequeueExpired(context.Context, time.Time, int64) ([]string, error) {
	return nil, nil
}

func (f *fakeQueue) Ack(_ context.Context, jobID string) error {
	f.acked = append(f.acked, jobID)
	return nil
}

func (f *fakeQueue) DLQPush(_ context.Context, jobID string) error {
	f.dlq = append(f.dlq, jobID)
	return nil
}

type countingStrategy struct {
	generated   int
	generateErr error
}

func (s *countingStrategy) Type() string { return "test_report" }

func (s *countingStrategy) Validate(json.RawMessage) error { return nil }

func (s *countingStrategy) EstimateCost(context.Context, json.RawMessage) (models.CostEstimate, error) {
	return models.CostEstimate{Records: 1, Duration: time.Millisecond}, nil
}

func (s *countingStrategy) Generate(context.Context, json.RawMessage) (*models.TabularData, error) {
	s.generated++
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	return &models.TabularData{Columns: []string{"n"}, Rows: [][]string{{"1"}}}, nil
}

type fakeIssuer struct {
	issued []models.DownloadToken
}

func (f *fakeIssuer) Issue(_ context.Context, job models.Job, targetURL string, targetExpiry time.Time) (models.DownloadToken, error) {
	t := models.DownloadToken{Token: "tok-" + job.ID, JobID: job.ID, TargetURL: targetURL, ExpiresAt: targetExpiry}
	f.issued = append(f.issued, t)
	return t, nil
}

type fakeNotifier struct {
	urls []string
	err  error
}

func (f *fakeNotifier) ReportCompleted(_ context.Context, _ models.Job, downloadURL string) error {
	f.urls = append(f.urls, downloadURL)
	return f.err
}

type testRig struct {
	consumer *Consumer
	jobs     *fakeJobStore
	queue    *fakeQueue
	strategy *countingStrategy
	issuer   *fakeIssuer
	notifier *fakeNotifier
}

func newTestRig(t *testing.T, jobs ...models.Job) *testRig {
	t.Helper()
	rig := &testRig{
		jobs:     newFakeJobStore(jobs...),
		queue:    &fakeQueue{},
		strategy: &countingStrategy{},
		issuer:   &fakeIssuer{},
		notifier: &fakeNotifier{},
	}
	cfg := config.Config{
		PresignTTL:         time.Hour,
		PublicBaseURL:      "http://localhost:8080",
		TokenSweepInterval: time.Hour,
		WorkerPollInterval: time.Millisecond,
	}
	registry := report.NewRegistry(zerolog.Nop(), rig.strategy)
	rig.consumer = NewConsumer(cfg, rig.queue, rig.jobs, registry, render.CSV{},
		artifact.NewLocalStore(t.TempDir()), rig.issuer, rig.notifier, nil, zerolog.Nop())
	return rig
}

func queuedJob(id string) models.Job {
	return models.Job{
		ID:          id,
		OwnerID:     "owner-1",
		ScopeID:     "scope-1",
		ReportType:  "test_report",
		Criteria:    json.RawMessage(`{}`),
		Status:      models.StatusQueued,
		RequestedAt: time.Now().UTC(),
	}
}

func TestProcessCompletesJob(t *testing.T) {
	rig := newTestRig(t, queuedJob("job-1"))
	rig.consumer.Process(context.Background(), "job-1")

	job := *rig.jobs.jobs["job-1"]
	require.Equal(t, models.StatusCompleted, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.ArtifactLocation)
	require.NotNil(t, job.Filename)
	require.Nil(t, job.ErrorText)
	require.Equal(t, 1, rig.strategy.generated)
	require.Equal(t, []string{"job-1"}, rig.queue.acked)
	require.Empty(t, rig.queue.dlq)

	require.Len(t, rig.issuer.issued, 1)
	require.Equal(t, []string{"http://localhost:8080/r/tok-job-1"}, rig.notifier.urls,
		"the delivered link carries the opaque handle, never the presigned URL")
}

func TestRedeliveryAfterCompletionIsNoOp(t *testing.T) {
	rig := newTestRig(t, queuedJob("job-1"))
	rig.consumer.Process(context.Background(), "job-1")
	rig.consumer.Process(context.Background(), "job-1")

	require.Equal(t, 1, rig.strategy.generated, "generate runs exactly once")
	require.Equal(t, models.StatusCompleted, rig.jobs.jobs["job-1"].Status)
	require.Equal(t, []string{"job-1", "job-1"}, rig.queue.acked)
	require.Len(t, rig.notifier.urls, 1)
}

func TestRedeliveryWhileProcessingIsNoOp(t *testing.T) {
	job := queuedJob("job-1")
	job.Status = models.StatusProcessing
	rig := newTestRig(t, job)

	rig.consumer.Process(context.Background(), "job-1")

	require.Zero(t, rig.strategy.generated)
	require.Equal(t, models.StatusProcessing, rig.jobs.jobs["job-1"].Status)
	require.Equal(t, []string{"job-1"}, rig.queue.acked)
}

func TestMissingJobRowIsDroppedNotRetried(t *testing.T) {
	rig := newTestRig(t)
	rig.consumer.Process(context.Background(), "ghost")

	require.Equal(t, []string{"ghost"}, rig.queue.acked, "acked so the queue never redelivers")
	require.Empty(t, rig.queue.dlq)
	require.Zero(t, rig.strategy.generated)
}

func TestGenerateFailureEndsFailedWithBoundedError(t *testing.T) {
	rig := newTestRig(t, queuedJob("job-1"))
	rig.strategy.generateErr = errors.New(strings.Repeat("x", 5000))

	rig.consumer.Process(context.Background(), "job-1")

	job := *rig.jobs.jobs["job-1"]
	require.Equal(t, models.StatusFailed, job.Status)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.ErrorText)
	require.LessOrEqual(t, len(*job.ErrorText), 2000)
	require.Equal(t, []string{"job-1"}, rig.queue.dlq)
	require.Equal(t, []string{"job-1"}, rig.queue.acked)
	require.Empty(t, rig.notifier.urls)
}

func TestNotificationFailureLeavesJobCompleted(t *testing.T) {
	rig := newTestRig(t, queuedJob("job-1"))
	rig.notifier.err = errors.New("webhook down")

	rig.consumer.Process(context.Background(), "job-1")

	job := *rig.jobs.jobs["job-1"]
	require.Equal(t, models.StatusCompleted, job.Status)
	require.NotNil(t, job.ArtifactLocation)
	require.Empty(t, rig.queue.dlq)
}

func TestUnsupportedTypeAtExecutionFails(t *testing.T) {
	job := queuedJob("job-1")
	job.ReportType = "vanished_type"
	rig := newTestRig(t, job)

	rig.consumer.Process(context.Background(), "job-1")

	got := *rig.jobs.jobs["job-1"]
	require.Equal(t, models.StatusFailed, got.Status)
	require.Contains(t, *got.ErrorText, "vanished_type")
}
