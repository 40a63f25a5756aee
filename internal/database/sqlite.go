// Package database provides SQLite implementation of the Store interface.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/threatlens/threatlens/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			ioc TEXT NOT NULL,
			ioc_type TEXT NOT NULL,
			provider TEXT NOT NULL,
			normalized TEXT NOT NULL,
			raw TEXT,
			cached_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (ioc, ioc_type, provider)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at)`,
		`CREATE TABLE IF NOT EXISTS lookups (
			id TEXT PRIMARY KEY,
			ioc TEXT NOT NULL,
			ioc_type TEXT NOT NULL,
			verdict TEXT NOT NULL,
			score INTEGER NOT NULL,
			result TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lookups_ioc ON lookups(ioc)`,
		`CREATE TABLE IF NOT EXISTS bulk_jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			total_iocs INTEGER NOT NULL,
			processed_iocs INTEGER NOT NULL,
			completed_iocs INTEGER NOT NULL,
			failed_iocs INTEGER NOT NULL,
			original_filename TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			ioc_list TEXT NOT NULL,
			results TEXT NOT NULL,
			error_message TEXT,
			force_refresh INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bulk_jobs_status ON bulk_jobs(status)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetCacheEntry retrieves a cached provider result. Expiry is enforced by
// the cache layer, not here.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT normalized, raw, cached_at, expires_at
		FROM cache_entries WHERE ioc = ? AND ioc_type = ? AND provider = ?`,
		key.IOC, key.Type, key.Provider)

	var normalizedJSON string
	var raw sql.NullString
	entry := &CacheEntry{Key: key}
	err := row.Scan(&normalizedJSON, &raw, &entry.CachedAt, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(normalizedJSON), &entry.Normalized); err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	if raw.Valid {
		entry.Raw = []byte(raw.String)
	}
	return entry, nil
}

// SetCacheEntry stores a provider result, replacing any previous entry for
// the same key (last write wins).
func (s *SQLiteStore) SetCacheEntry(ctx context.Context, entry *CacheEntry) error {
	normalizedJSON, err := json.Marshal(entry.Normalized)
	if err != nil {
		return err
	}
	var raw any
	if len(entry.Raw) > 0 {
		raw = string(entry.Raw)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (ioc, ioc_type, provider, normalized, raw, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ioc, ioc_type, provider) DO UPDATE SET
			normalized = excluded.normalized,
			raw = excluded.raw,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		entry.Key.IOC, entry.Key.Type, entry.Key.Provider,
		string(normalizedJSON), raw, entry.CachedAt, entry.ExpiresAt,
	)
	return err
}

// DeleteCacheEntry removes a cached provider result.
func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, key CacheKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE ioc = ? AND ioc_type = ? AND provider = ?`,
		key.IOC, key.Type, key.Provider)
	return err
}

// SaveLookup stores a completed lookup result.
func (s *SQLiteStore) SaveLookup(ctx context.Context, result *models.LookupResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lookups (id, ioc, ioc_type, verdict, score, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.LookupID, result.Indicator.Value, result.Indicator.Type,
		result.Summary.Verdict, result.Summary.Score, string(resultJSON),
		result.Timing.StartedAt,
	)
	return err
}

// GetLookup retrieves a lookup result by ID.
func (s *SQLiteStore) GetLookup(ctx context.Context, id string) (*models.LookupResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT result FROM lookups WHERE id = ?`, id)

	var resultJSON string
	err := row.Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result models.LookupResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("corrupt lookup record: %w", err)
	}
	return &result, nil
}

// CreateBulkJob stores a new bulk job.
func (s *SQLiteStore) CreateBulkJob(ctx context.Context, job *models.BulkJob) error {
	iocListJSON, err := json.Marshal(job.IOCList)
	if err != nil {
		return err
	}
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bulk_jobs (id, status, total_iocs, processed_iocs, completed_iocs, failed_iocs,
			original_filename, file_size, ioc_list, results, error_message, force_refresh,
			created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.TotalIOCs, job.ProcessedIOCs, job.CompletedIOCs, job.FailedIOCs,
		job.OriginalFilename, job.FileSize, string(iocListJSON), string(resultsJSON),
		job.ErrorMessage, boolToInt(job.ForceRefresh),
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	return err
}

// GetBulkJob retrieves a bulk job by ID.
func (s *SQLiteStore) GetBulkJob(ctx context.Context, id string) (*models.BulkJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, total_iocs, processed_iocs, completed_iocs, failed_iocs,
			original_filename, file_size, ioc_list, results, error_message, force_refresh,
			created_at, started_at, completed_at
		FROM bulk_jobs WHERE id = ?`, id)

	var job models.BulkJob
	var iocListJSON, resultsJSON string
	var errorMessage sql.NullString
	var forceRefresh int
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.Status, &job.TotalIOCs, &job.ProcessedIOCs,
		&job.CompletedIOCs, &job.FailedIOCs, &job.OriginalFilename, &job.FileSize,
		&iocListJSON, &resultsJSON, &errorMessage, &forceRefresh,
		&job.CreatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(iocListJSON), &job.IOCList); err != nil {
		return nil, fmt.Errorf("corrupt bulk job record: %w", err)
	}
	if err := json.Unmarshal([]byte(resultsJSON), &job.Results); err != nil {
		return nil, fmt.Errorf("corrupt bulk job record: %w", err)
	}
	job.ErrorMessage = errorMessage.String
	job.ForceRefresh = forceRefresh != 0
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// UpdateBulkJob persists the current counters, results and status of a job.
// Called after every processed indicator so a crash leaves true partial
// progress behind.
func (s *SQLiteStore) UpdateBulkJob(ctx context.Context, job *models.BulkJob) error {
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE bulk_jobs SET status = ?, processed_iocs = ?, completed_iocs = ?, failed_iocs = ?,
			results = ?, error_message = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		job.Status, job.ProcessedIOCs, job.CompletedIOCs, job.FailedIOCs,
		string(resultsJSON), job.ErrorMessage, job.StartedAt, job.CompletedAt,
		job.ID,
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
