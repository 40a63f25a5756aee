package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/threatlens/threatlens/internal/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCacheEntryRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key := CacheKey{IOC: "8.8.8.8", Type: "ipv4", Provider: "virustotal"}
	rep := 42
	entry := &CacheEntry{
		Key: key,
		Normalized: models.ProviderResult{
			Provider:   "virustotal",
			Status:     models.StatusOK,
			Reputation: &rep,
		},
		Raw:       []byte(`{"data":{}}`),
		CachedAt:  1700000000,
		ExpiresAt: 1700003600,
	}
	if err := store.SetCacheEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetCacheEntry(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("entry not found")
	}
	if got.Normalized.Provider != "virustotal" || *got.Normalized.Reputation != 42 {
		t.Errorf("normalized = %+v", got.Normalized)
	}
	if string(got.Raw) != `{"data":{}}` {
		t.Errorf("raw = %s", got.Raw)
	}
	if got.CachedAt != 1700000000 || got.ExpiresAt != 1700003600 {
		t.Errorf("timestamps = %d/%d", got.CachedAt, got.ExpiresAt)
	}
}

func TestCacheEntryMissIsNil(t *testing.T) {
	store := testStore(t)

	got, err := store.GetCacheEntry(context.Background(), CacheKey{IOC: "1.1.1.1", Type: "ipv4", Provider: "otx"})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for missing key", got)
	}
}

func TestCacheEntryLastWriteWins(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key := CacheKey{IOC: "8.8.8.8", Type: "ipv4", Provider: "otx"}
	for _, cachedAt := range []int64{100, 200} {
		entry := &CacheEntry{
			Key:        key,
			Normalized: models.ProviderResult{Provider: "otx", Status: models.StatusOK},
			CachedAt:   cachedAt,
			ExpiresAt:  cachedAt + 3600,
		}
		if err := store.SetCacheEntry(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.GetCacheEntry(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.CachedAt != 200 {
		t.Errorf("cached_at = %d, want the later write", got.CachedAt)
	}
}

func TestDeleteCacheEntry(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key := CacheKey{IOC: "8.8.8.8", Type: "ipv4", Provider: "abuseipdb"}
	entry := &CacheEntry{
		Key:        key,
		Normalized: models.ProviderResult{Provider: "abuseipdb", Status: models.StatusOK},
		CachedAt:   1,
		ExpiresAt:  2,
	}
	if err := store.SetCacheEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteCacheEntry(ctx, key); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetCacheEntry(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("entry survived delete")
	}
}

func TestLookupRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	result := &models.LookupResult{
		LookupID:  "lookup-1",
		Indicator: models.Indicator{Value: "example.com", Type: models.TypeDomain},
		Summary:   models.Summary{Verdict: models.VerdictSuspicious, Score: 55},
		Providers: []models.ProviderResult{{Provider: "virustotal", Status: models.StatusOK}},
		Timing:    models.Timing{StartedAt: time.Now().UTC()},
	}
	if err := store.SaveLookup(ctx, result); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetLookup(ctx, "lookup-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("lookup not found")
	}
	if got.Indicator.Value != "example.com" || got.Summary.Score != 55 {
		t.Errorf("lookup = %+v", got)
	}
	if len(got.Providers) != 1 {
		t.Errorf("providers = %d", len(got.Providers))
	}

	missing, err := store.GetLookup(ctx, "no-such-lookup")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for unknown lookup id")
	}
}

func TestBulkJobRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	job := &models.BulkJob{
		ID:               "job-1",
		Status:           models.JobPending,
		TotalIOCs:        2,
		OriginalFilename: "batch.csv",
		FileSize:         64,
		IOCList:          []string{"8.8.8.8", "example.com"},
		ForceRefresh:     true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := store.CreateBulkJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetBulkJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("job not found")
	}
	if len(got.IOCList) != 2 || got.IOCList[1] != "example.com" {
		t.Errorf("ioc list = %v", got.IOCList)
	}
	if !got.ForceRefresh {
		t.Error("force_refresh not persisted")
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("unset timestamps came back non-nil")
	}

	// Simulate progress and completion.
	now := time.Now().UTC()
	got.Status = models.JobCompleted
	got.ProcessedIOCs = 2
	got.CompletedIOCs = 2
	got.StartedAt = &now
	got.CompletedAt = &now
	got.Results = []models.BulkItemResult{
		{IOC: "8.8.8.8", ProcessedAt: now},
		{IOC: "example.com", ProcessedAt: now},
	}
	if err := store.UpdateBulkJob(ctx, got); err != nil {
		t.Fatal(err)
	}

	final, err := store.GetBulkJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.JobCompleted || final.ProcessedIOCs != 2 {
		t.Errorf("job = %+v", final)
	}
	if len(final.Results) != 2 {
		t.Errorf("results = %d", len(final.Results))
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not persisted")
	}
}
