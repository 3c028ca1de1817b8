package router

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"report-pipeline/internal/models"
)

// ConfigSource looks up threshold configuration. The bool is false when no
// row exists for the type.
type ConfigSource interface {
	GetThreshold(ctx context.Context, reportType string) (models.ThresholdConfig, bool, error)
}

// Router decides per request whether report generation happens inline or on
// the worker. Configuration is read-mostly, so it is cached with a TTL and a
// stale copy is acceptable; a lookup failure falls back to defaults rather
// than failing the routing decision.
type Router struct {
	source   ConfigSource
	defaults models.ThresholdConfig
	ttl      time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedThreshold
}

type cachedThreshold struct {
	cfg       models.ThresholdConfig
	fetchedAt time.Time
}

// New builds a router. maxRecords/maxDuration are the hard-coded fallback
// bounds used when a type has no configuration row.
func New(source ConfigSource, maxRecords int64, maxDuration, cacheTTL time.Duration, logger zerolog.Logger) *Router {
	if maxRecords <= 0 {
		maxRecords = 5000
	}
	if maxDuration <= 0 {
		maxDuration = 10 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Router{
		source:   source,
		defaults: models.ThresholdConfig{MaxRecords: maxRecords, MaxDuration: maxDuration},
		ttl:      cacheTTL,
		logger:   logger,
		cache:    make(map[string]cachedThreshold),
	}
}

// ShouldRouteAsync returns true when either estimated dimension exceeds its
// bound. Either one alone can ruin the caller's experience, hence OR. Never
// fails: configuration problems degrade to defaults.
func (r *Router) ShouldRouteAsync(ctx context.Context, reportType string, records int64, duration time.Duration) bool {
	cfg := r.threshold(ctx, reportType)
	return records > cfg.MaxRecords || duration > cfg.MaxDuration
}

func (r *Router) threshold(ctx context.Context, reportType string) models.ThresholdConfig {
	now := time.Now()

	r.mu.Lock()
	entry, ok := r.cache[reportType]
	r.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < r.ttl {
		return entry.cfg
	}

	cfg, found, err := r.source.GetThreshold(ctx, reportType)
	if err != nil {
		r.logger.Warn().Err(err).Str("report_type", reportType).
			Msg("threshold lookup failed, using defaults")
		if ok {
			// A stale entry beats the hard-coded defaults.
			return entry.cfg
		}
		return r.defaults
	}
	if !found {
		cfg = r.defaults
	}

	r.mu.Lock()
	r.cache[reportType] = cachedThreshold{cfg: cfg, fetchedAt: now}
	r.mu.Unlock()
	return cfg
}
