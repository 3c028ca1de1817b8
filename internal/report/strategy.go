package report

import (
	"context"
	"encoding/json"

	"report-pipeline/internal/models"
)

// Strategy is the per-report-type generation contract. Criteria is an opaque
// JSON blob to everything except the strategy that owns the type.
//
// Generate runs in the worker process, far from the request that produced the
// criteria, so implementations must not depend on any per-request state:
// everything they need has to round-trip through the serialized criteria.
type Strategy interface {
	// Type is the report type this strategy serves.
	Type() string

	// Validate rejects malformed criteria before a job is accepted. Returns
	// a *ValidationError for caller mistakes.
	Validate(criteria json.RawMessage) error

	// EstimateCost predicts the size of the report so the router can choose
	// the sync or async path.
	EstimateCost(ctx context.Context, criteria json.RawMessage) (models.CostEstimate, error)

	// Generate computes the report data.
	Generate(ctx context.Context, criteria json.RawMessage) (*models.TabularData, error)
}
