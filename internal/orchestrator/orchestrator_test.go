package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"report-pipeline/internal/models"
	"report-pipeline/internal/report"
)

type stubStrategy struct {
	typ         string
	validateErr error
	estimate    models.CostEstimate
	generateErr error
	generated   int
}

func (s *stubStrategy) Type() string { return s.typ }

func (s *stubStrategy) Validate(json.RawMessage) error { return s.validateErr }


func (s *stubStrategy) EstimateCost(context.Context, json.RawMessage) (models.CostEstimate, error) {
	return s.estimate, nil
}
func (s *stubStrategy) Generate(context.Context, json.RawMessage) (*models.TabularData, error) {
	s.generated++
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	return &models.TabularData{Columns: []string{"n"}, Rows: [][]string{{"1"}}}, nil
}

type memJobStore struct {
	jobs   map[string]models.Job
	events []string
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: map[string]models.Job{}}
}

func (m *memJobStore) CreateJob(_ context.Context, job models.Job) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *memJobStore) AppendEvent(_ context.Context, jobID, event, _ string) error {
	m.events = append(m.events, jobID+":"+event)
	return nil
}

// recordingDispatcher asserts the job row is visible at enqueue time.
type recordingDispatcher struct {
	store    *memJobStore
	enqueued []string
	failWith error
	missing  bool
}

func (d *recordingDispatcher) Enqueue(_ context.Context, jobID string) error {
	if d.failWith != nil {
		return d.failWith
	}
	if _, ok := d.store.jobs[jobID]; !ok {
		d.missing = true
	}
	d.enqueued = append(d.enqueued, jobID)
	return nil
}

type fixedDecider bool

func (f fixedDecider) ShouldRouteAsync(context.Context, string, int64, time.Duration) bool {
	return bool(f)
}

func newOrchestrator(t *testing.T, s report.Strategy, async bool, store *memJobStore, d Dispatcher) *Orchestrator {
	t.Helper()
	reg := report.NewRegistry(zerolog.Nop(), s)
	return New(reg, fixedDecider(async), store, d, time.Minute, zerolog.Nop())
}

func TestSmallReportIsServedInline(t *testing.T) {
	strat := &stubStrategy{typ: "x", estimate: models.CostEstimate{Records: 100, Duration: time.Second}}
	store := newMemJobStore()
	disp := &recordingDispatcher{store: store}
	o := newOrchestrator(t, strat, false, store, disp)

	res, err := o.Submit(context.Background(), "x", json.RawMessage(`{}`), "owner", "scope")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, 1, res.TotalRecords)
	require.NotNil(t, res.Data)
	require.Empty(t, store.jobs, "sync path creates no job row")
	require.Empty(t, disp.enqueued)
}

func TestLargeReportIsQueuedThenDispatched(t *testing.T) {
	strat := &stubStrategy{typ: "x", estimate: models.CostEstimate{Records: 50000, Duration: 2 * time.Second}}
	store := newMemJobStore()
	disp := &recordingDispatcher{store: store}
	o := newOrchestrator(t, strat, true, store, disp)

	res, err := o.Submit(context.Background(), "x", json.RawMessage(`{}`), "owner", "scope")
	require.NoError(t, err)
	require.Equal(t, StatusQueued, res.Status)
	require.NotEmpty(t, res.JobID)
	require.False(t, res.EstimatedCompletion.IsZero())
	require.Zero(t, strat.generated, "async path does not generate inline")

	job, ok := store.jobs[res.JobID]
	require.True(t, ok)
	require.Equal(t, models.StatusQueued, job.Status)
	require.Equal(t, []string{res.JobID}, disp.enqueued)
	require.False(t, disp.missing, "job row must be committed before the dispatch message")
}

func TestUnsupportedTypeFailsBeforePersistence(t *testing.T) {
	strat := &stubStrategy{typ: "x"}
	store := newMemJobStore()
	o := newOrchestrator(t, strat, true, store, &recordingDispatcher{store: store})

	_, err := o.Submit(context.Background(), "y", nil, "owner", "scope")
	var unsupported *report.UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "y", unsupported.RequestedType)
	require.Contains(t, unsupported.Supported, "x")
	require.Empty(t, store.jobs)
}

func TestValidationFailureCreatesNoJob(t *testing.T) {
	strat := &stubStrategy{typ: "x", validateErr: report.Validationf("bad input")}
	store := newMemJobStore()
	o := newOrchestrator(t, strat, true, store, &recordingDispatcher{store: store})

	_, err := o.Submit(context.Background(), "x", json.RawMessage(`{"bad":true}`), "owner", "scope")
	var verr *report.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, store.jobs)
}

func TestSyncGenerationFailureIsWrapped(t *testing.T) {
	strat := &stubStrategy{typ: "x", generateErr: errors.New("boom")}
	store := newMemJobStore()
	o := newOrchestrator(t, strat, false, store, &recordingDispatcher{store: store})

	_, err := o.Submit(context.Background(), "x", nil, "owner", "scope")
	var gerr *report.GenerationError
	require.ErrorAs(t, err, &gerr)
	require.Empty(t, store.jobs, "no job row for synchronous failures")
}

func TestEnqueueFailureStillAcceptsTheJob(t *testing.T) {
	strat := &stubStrategy{typ: "x", estimate: models.CostEstimate{Records: 50000}}
	store := newMemJobStore()
	disp := &recordingDispatcher{store: store, failWith: errors.New("redis down")}
	o := newOrchestrator(t, strat, true, store, disp)

	res, err := o.Submit(context.Background(), "x", nil, "owner", "scope")
	require.NoError(t, err, "committed row wins; the redispatch sweep will deliver it")
	require.Equal(t, StatusQueued, res.Status)
	require.Contains(t, store.events, res.JobID+":dispatch_deferred")
}
