package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"report-pipeline/internal/models"
)

type fakeSource struct {
	cfg     models.ThresholdConfig
	found   bool
	err     error
	lookups int
}

func (f *fakeSource) GetThreshold(context.Context, string) (models.ThresholdConfig, bool, error) {
	f.lookups++
	return f.cfg, f.found, f.err
}

func TestRoutesAsyncWhenEitherBoundExceeded(t *testing.T) {
	src := &fakeSource{
		cfg:   models.ThresholdConfig{ReportType: "x", MaxRecords: 5000, MaxDuration: 10 * time.Second},
		found: true,
	}
	r := New(src, 5000, 10*time.Second, time.Minute, zerolog.Nop())
	ctx := context.Background()

	require.False(t, r.ShouldRouteAsync(ctx, "x", 100, time.Second))
	require.True(t, r.ShouldRouteAsync(ctx, "x", 50000, 2*time.Second), "record count alone routes async")
	require.True(t, r.ShouldRouteAsync(ctx, "x", 100, time.Minute), "duration alone routes async")
	require.False(t, r.ShouldRouteAsync(ctx, "x", 5000, 10*time.Second), "at the bound is still sync")
}

func TestMissingConfigFallsBackToDefaults(t *testing.T) {
	src := &fakeSource{found: false}
	r := New(src, 5000, 10*time.Second, time.Minute, zerolog.Nop())
	ctx := context.Background()

	require.False(t, r.ShouldRouteAsync(ctx, "unknown", 4999, 9*time.Second))
	require.True(t, r.ShouldRouteAsync(ctx, "unknown", 5001, time.Second))
}

func TestLookupErrorNeverPropagates(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	r := New(src, 5000, 10*time.Second, time.Minute, zerolog.Nop())

	require.True(t, r.ShouldRouteAsync(context.Background(), "x", 6000, time.Second))
	require.False(t, r.ShouldRouteAsync(context.Background(), "x", 10, time.Second))
}

func TestThresholdIsCached(t *testing.T) {
	src := &fakeSource{
		cfg:   models.ThresholdConfig{MaxRecords: 10, MaxDuration: time.Second},
		found: true,
	}
	r := New(src, 5000, 10*time.Second, time.Hour, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.ShouldRouteAsync(ctx, "x", 1, time.Millisecond)
	}
	require.Equal(t, 1, src.lookups, "within TTL only the first call hits the source")
}
