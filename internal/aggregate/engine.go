// Package aggregate provides the lookup engine that fans a single check
// out to every applicable provider and merges the results.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/threatlens/threatlens/internal/cache"
	"github.com/threatlens/threatlens/internal/database"
	"github.com/threatlens/threatlens/internal/ioc"
	"github.com/threatlens/threatlens/internal/models"
	"github.com/threatlens/threatlens/internal/providers"
	"github.com/threatlens/threatlens/internal/scoring"
)

// Engine orchestrates concurrent provider lookups for one indicator.
type Engine struct {
	registry *providers.Registry
	cache    *cache.Cache
	scorer   *scoring.Scorer
	store    database.Store
}

// New creates the aggregation engine.
func New(registry *providers.Registry, c *cache.Cache, scorer *scoring.Scorer, store database.Store) *Engine {
	return &Engine{
		registry: registry,
		cache:    c,
		scorer:   scorer,
		store:    store,
	}
}

// StreamEventType identifies a streaming lookup event.
type StreamEventType string

const (
	// EventProvider carries one completed provider slot, in completion order.
	EventProvider StreamEventType = "provider"
	// EventDone carries the final merged result.
	EventDone StreamEventType = "done"
	// EventError reports a classification failure.
	EventError StreamEventType = "error"
)

// StreamEvent is one message on a streaming lookup.
type StreamEvent struct {
	Type     StreamEventType        `json:"type"`
	Provider *models.ProviderResult `json:"provider,omitempty"`
	Result   *models.LookupResult   `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Registry returns the engine's provider registry.
func (e *Engine) Registry() *providers.Registry {
	return e.registry
}

// Debug returns the stored raw provider payloads for an indicator, one
// entry per applicable provider. Providers with nothing cached get an
// uncached entry; nothing here touches the network.
func (e *Engine) Debug(ctx context.Context, value string) (*models.DebugResult, error) {
	indicatorType, err := ioc.Classify(value)
	if err != nil {
		return nil, fmt.Errorf("classify %q: %w", value, err)
	}
	canonical := ioc.Canonicalize(value, indicatorType)

	result := &models.DebugResult{
		Indicator: models.Indicator{Value: canonical, Type: indicatorType},
	}
	for _, a := range e.registry.ForType(indicatorType) {
		debugEntry := models.DebugEntry{Provider: a.Name()}
		key := database.CacheKey{IOC: canonical, Type: indicatorType, Provider: a.Name()}
		entry, err := e.store.GetCacheEntry(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("provider", a.Name()).Msg("Failed to read cache entry")
		}
		if entry != nil {
			debugEntry.Cached = true
			debugEntry.Raw = json.RawMessage(entry.Raw)
			debugEntry.CachedAt = entry.CachedAt
			debugEntry.ExpiresAt = entry.ExpiresAt
		}
		result.Providers = append(result.Providers, debugEntry)
	}
	return result, nil
}

// Check looks an indicator up against every provider that supports its
// type. Classification failures return an error for the boundary layer to
// map; provider failures never do, they become status fields in the slots.
func (e *Engine) Check(ctx context.Context, value string, forceRefresh bool) (*models.LookupResult, error) {
	return e.check(ctx, value, forceRefresh, nil)
}

// CheckStream runs a lookup while emitting one event per completed
// provider slot, in completion order, followed by a done event with the
// merged result. The channel closes when the lookup finishes.
func (e *Engine) CheckStream(ctx context.Context, value string, forceRefresh bool) <-chan StreamEvent {
	events := make(chan StreamEvent, len(e.registry.All())+2)
	go func() {
		defer close(events)
		result, err := e.check(ctx, value, forceRefresh, events)
		if err != nil {
			events <- StreamEvent{Type: EventError, Error: err.Error()}
			return
		}
		events <- StreamEvent{Type: EventDone, Result: result}
	}()
	return events
}

func (e *Engine) check(ctx context.Context, value string, forceRefresh bool, events chan<- StreamEvent) (*models.LookupResult, error) {
	indicatorType, err := ioc.Classify(value)
	if err != nil {
		return nil, fmt.Errorf("classify %q: %w", value, err)
	}
	canonical := ioc.Canonicalize(value, indicatorType)

	startedAt := time.Now()
	result := &models.LookupResult{
		LookupID: uuid.New().String(),
		Indicator: models.Indicator{
			Value: canonical,
			Type:  indicatorType,
		},
	}

	selected := e.registry.ForType(indicatorType)
	slots := make([]*models.ProviderResult, len(selected))

	var wg sync.WaitGroup
	for i, adapter := range selected {
		wg.Add(1)
		go func(idx int, a providers.Adapter) {
			defer wg.Done()
			slot := e.checkProvider(ctx, a, canonical, indicatorType, forceRefresh)
			slots[idx] = slot
			if events != nil {
				events <- StreamEvent{Type: EventProvider, Provider: slot}
			}
		}(i, adapter)
	}
	wg.Wait()

	// Assemble in display order, never completion order.
	result.Providers = make([]models.ProviderResult, len(slots))
	for i, slot := range slots {
		result.Providers[i] = *slot
	}

	result.Summary = e.scorer.Summarize(result.Providers)

	finishedAt := time.Now()
	result.Timing = models.Timing{
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		TotalMs:    finishedAt.Sub(startedAt).Milliseconds(),
	}

	if err := e.store.SaveLookup(ctx, result); err != nil {
		log.Error().Err(err).Str("lookup_id", result.LookupID).Msg("Failed to save lookup")
	}

	log.Info().
		Str("lookup_id", result.LookupID).
		Str("ioc", canonical).
		Str("type", string(indicatorType)).
		Str("verdict", string(result.Summary.Verdict)).
		Int("score", result.Summary.Score).
		Int64("duration_ms", result.Timing.TotalMs).
		Msg("Lookup complete")

	return result, nil
}

// checkProvider fills one provider's slot: cache hit, or fetch+normalize
// with the result written back. Any panic or unclassified failure in this
// path is contained to this slot.
func (e *Engine) checkProvider(ctx context.Context, a providers.Adapter, canonical string, t models.IndicatorType, forceRefresh bool) (slot *models.ProviderResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("provider", a.Name()).
				Interface("panic", r).
				Msg("Provider path panicked")
			slot = providers.ErrorResult(a, canonical, t, &models.ProviderError{
				Code:    models.StatusError,
				Message: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	key := database.CacheKey{IOC: canonical, Type: t, Provider: a.Name()}

	if !forceRefresh {
		if hit := e.cache.Get(ctx, key); hit != nil {
			hit.Cached = true
			hit.CacheAgeSeconds = e.cache.AgeSeconds(ctx, key)
			return hit
		}
	}

	start := time.Now()
	raw, err := a.Fetch(ctx, canonical, t)
	latency := time.Since(start).Milliseconds()

	var result *models.ProviderResult
	switch {
	case err != nil:
		perr, ok := err.(*models.ProviderError)
		if !ok {
			perr = &models.ProviderError{Code: models.StatusError, Message: err.Error()}
		}
		result = providers.ErrorResult(a, canonical, t, perr)
	case raw == nil:
		// Unsupported type slipped through selection; not an error.
		result = providers.ErrorResult(a, canonical, t, &models.ProviderError{
			Code:    models.StatusUnavailable,
			Message: "indicator type not supported by provider",
		})
	default:
		result = a.Normalize(raw, canonical, t)
	}
	result.LatencyMs = latency

	// Circuit-open slots are synthesized locally, not upstream data, and
	// would mask the provider's recovery if cached.
	if result.Status != models.StatusUnavailable {
		e.cache.Set(ctx, key, result, result.Raw)
	}
	return result
}
