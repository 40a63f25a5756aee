// Package database provides the data access layer.
package database

import (
	"context"

	"github.com/threatlens/threatlens/internal/models"
)

// CacheKey identifies one cached provider result. Entries never mix
// providers or indicator types under one key.
type CacheKey struct {
	IOC      string
	Type     models.IndicatorType
	Provider string
}

// CacheEntry is a stored provider result with its freshness window.
// Timestamps are unix epoch seconds.
type CacheEntry struct {
	Key        CacheKey
	Normalized models.ProviderResult
	Raw        []byte
	CachedAt   int64
	ExpiresAt  int64
}

// Store defines the interface for data persistence.
type Store interface {
	// Provider result cache
	GetCacheEntry(ctx context.Context, key CacheKey) (*CacheEntry, error)
	SetCacheEntry(ctx context.Context, entry *CacheEntry) error
	DeleteCacheEntry(ctx context.Context, key CacheKey) error

	// Lookups
	SaveLookup(ctx context.Context, result *models.LookupResult) error
	GetLookup(ctx context.Context, id string) (*models.LookupResult, error)

	// Bulk jobs
	CreateBulkJob(ctx context.Context, job *models.BulkJob) error
	GetBulkJob(ctx context.Context, id string) (*models.BulkJob, error)
	UpdateBulkJob(ctx context.Context, job *models.BulkJob) error

	// Lifecycle
	Close() error
	Migrate() error
}
