// Package providers implements the threat-intelligence provider adapters.
package providers

import (
	"context"
	"encoding/json"

	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/models"
)

// Adapter is the capability contract every provider implements.
type Adapter interface {
	// Name returns the provider's registry name.
	Name() string

	// Supports reports whether the provider can handle the indicator type.
	Supports(t models.IndicatorType) bool

	// Fetch retrieves the raw provider response for an indicator. It
	// returns (nil, nil) when the type is unsupported, and a
	// *models.ProviderError for any classified failure.
	Fetch(ctx context.Context, ioc string, t models.IndicatorType) (json.RawMessage, error)

	// Normalize maps a successful raw response to the shared result shape.
	Normalize(raw json.RawMessage, ioc string, t models.IndicatorType) *models.ProviderResult

	// LinkOut returns the provider's UI URL for an indicator.
	LinkOut(ioc string, t models.IndicatorType) string
}

// CircuitReporter is implemented by adapters that can report their
// circuit-breaker state.
type CircuitReporter interface {
	CircuitOpen() bool
}

// Registry holds the configured adapters in fixed display order. Breaker
// state lives inside each adapter instance; building a new registry starts
// every breaker closed.
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds the adapter set from configuration. The slice order
// is the display order of provider slots in every lookup.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		adapters: []Adapter{
			NewVirusTotal(cfg),
			NewAbuseIPDB(cfg),
			NewOTX(cfg),
		},
	}
}

// NewRegistryWith builds a registry from explicit adapters, in display
// order. Used by tests.
func NewRegistryWith(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// All returns every adapter in display order.
func (r *Registry) All() []Adapter {
	return r.adapters
}

// ForType returns the adapters supporting an indicator type, in display order.
func (r *Registry) ForType(t models.IndicatorType) []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.Supports(t) {
			out = append(out, a)
		}
	}
	return out
}

// allTypes is every indicator type, in a stable order for Info output.
var allTypes = []models.IndicatorType{
	models.TypeIPv4, models.TypeIPv6, models.TypeDomain, models.TypeURL,
	models.TypeMD5, models.TypeSHA1, models.TypeSHA256,
}

// Info describes every adapter: name, supported types and breaker state.
func (r *Registry) Info() []models.ProviderInfo {
	out := make([]models.ProviderInfo, 0, len(r.adapters))
	for _, a := range r.adapters {
		info := models.ProviderInfo{Name: a.Name()}
		for _, t := range allTypes {
			if a.Supports(t) {
				info.SupportedTypes = append(info.SupportedTypes, string(t))
			}
		}
		if cr, ok := a.(CircuitReporter); ok {
			info.CircuitOpen = cr.CircuitOpen()
		}
		out = append(out, info)
	}
	return out
}

// ErrorResult builds a provider slot for a classified failure. Numeric
// signal fields stay nil: an errored slot carries no score data.
func ErrorResult(a Adapter, ioc string, t models.IndicatorType, perr *models.ProviderError) *models.ProviderResult {
	return &models.ProviderResult{
		Provider: a.Name(),
		Status:   perr.Code,
		Link:     a.LinkOut(ioc, t),
		Flags:    map[string]any{},
		Evidence: []models.EvidenceItem{},
		Err:      perr,
	}
}

func intPtr(v int) *int { return &v }
