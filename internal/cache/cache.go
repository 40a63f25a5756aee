// Package cache provides the per-provider result cache with type-dependent
// freshness windows.
package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/database"
	"github.com/threatlens/threatlens/internal/models"
)

// Cache stores normalized provider results keyed by
// (canonical indicator, type, provider). Store errors are treated as
// misses: a broken cache must never fail a lookup.
type Cache struct {
	store database.Store
	cfg   config.CacheConfig
	now   func() time.Time
}

// New creates a cache backed by the given store.
func New(store database.Store, cfg config.CacheConfig) *Cache {
	return &Cache{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Get returns the cached result for a key, or nil on miss, expiry, or
// store error.
func (c *Cache) Get(ctx context.Context, key database.CacheKey) *models.ProviderResult {
	entry, err := c.store.GetCacheEntry(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("provider", key.Provider).Msg("Cache read failed, treating as miss")
		return nil
	}
	if entry == nil {
		return nil
	}
	if c.now().Unix() >= entry.ExpiresAt {
		return nil
	}
	result := entry.Normalized
	result.CachedAt = entry.CachedAt
	return &result
}

// Set stores a normalized result (and the raw payload, if any) under the
// TTL for the key's indicator type.
func (c *Cache) Set(ctx context.Context, key database.CacheKey, result *models.ProviderResult, raw []byte) {
	now := c.now().Unix()
	ttl := c.cfg.TTLFor(string(key.Type))

	stored := *result
	stored.CachedAt = now

	entry := &database.CacheEntry{
		Key:        key,
		Normalized: stored,
		Raw:        raw,
		CachedAt:   now,
		ExpiresAt:  now + int64(ttl/time.Second),
	}
	if err := c.store.SetCacheEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("provider", key.Provider).Msg("Cache write failed")
	}
}

// AgeSeconds returns how long ago the entry for a key was cached, or nil
// if absent.
func (c *Cache) AgeSeconds(ctx context.Context, key database.CacheKey) *int64 {
	entry, err := c.store.GetCacheEntry(ctx, key)
	if err != nil || entry == nil {
		return nil
	}
	age := c.now().Unix() - entry.CachedAt
	return &age
}
