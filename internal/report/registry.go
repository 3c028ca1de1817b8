package report

import (
	"sort"

	"github.com/rs/zerolog"
)

// Registry maps report types to their strategies. It is built once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds the registry from the given strategies. Registering two
// strategies for the same type is a misconfiguration worth alerting on; the
// last one wins and a warning is logged.
func NewRegistry(logger zerolog.Logger, strategies ...Strategy) *Registry {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		if s == nil || s.Type() == "" {
			continue
		}
		if _, dup := m[s.Type()]; dup {
			logger.Warn().Str("report_type", s.Type()).
				Msg("duplicate strategy registration, last one wins")
		}
		m[s.Type()] = s
	}
	return &Registry{strategies: m}
}

// Lookup resolves a strategy by report type.
func (r *Registry) Lookup(reportType string) (Strategy, error) {
	s, ok := r.strategies[reportType]
	if !ok {
		return nil, &UnsupportedTypeError{RequestedType: reportType, Supported: r.Types()}
	}
	return s, nil
}

// Types returns the registered report types, sorted for stable output.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
