package artifact

import (
	"context"
	"time"

	"report-pipeline/internal/config"
)

// Store is the object-storage collaborator. Locations are opaque strings
// ("s3://bucket/key" or "file://path") produced by Put and consumed by Get
// and Presign.
type Store interface {
	// Put writes an artifact under a deterministic key derived from scope,
	// job id, and filename, and returns its location.
	Put(ctx context.Context, scope, jobID, filename string, body []byte, contentType string) (string, error)

	// Get reads an artifact back, returning its bytes and content type.
	Get(ctx context.Context, location string) ([]byte, string, error)

	// Presign returns a time-limited credential-bearing URL for the
	// location, plus the instant the URL stops working.
	Presign(ctx context.Context, location string, ttl time.Duration) (string, time.Time, error)
}

// NewFromConfig picks S3 when a bucket is configured, the local filesystem
// otherwise.
func NewFromConfig(ctx context.Context, cfg config.Config) (Store, error) {
	if cfg.ArtifactBucket != "" {
		return NewS3Store(ctx, cfg)
	}
	return NewLocalStore(cfg.ArtifactLocalDir), nil
}
