// Package models defines the core data structures used throughout the application.
package models

import (
	"encoding/json"
	"time"
)

// IndicatorType represents the kind of indicator being checked.
type IndicatorType string

const (
	TypeIPv4   IndicatorType = "ipv4"
	TypeIPv6   IndicatorType = "ipv6"
	TypeDomain IndicatorType = "domain"
	TypeURL    IndicatorType = "url"
	TypeMD5    IndicatorType = "hash_md5"
	TypeSHA1   IndicatorType = "hash_sha1"
	TypeSHA256 IndicatorType = "hash_sha256"
)

// IsHash reports whether the type is one of the file hash kinds.
func (t IndicatorType) IsHash() bool {
	return t == TypeMD5 || t == TypeSHA1 || t == TypeSHA256
}

// IsIP reports whether the type is an IP address kind.
func (t IndicatorType) IsIP() bool {
	return t == TypeIPv4 || t == TypeIPv6
}

// ProviderStatus represents the outcome of a single provider call.
type ProviderStatus string

const (
	StatusOK               ProviderStatus = "ok"
	StatusAuthError        ProviderStatus = "auth_error"
	StatusNotFound         ProviderStatus = "not_found"
	StatusRateLimited      ProviderStatus = "rate_limited"
	StatusTimeout          ProviderStatus = "timeout"
	StatusPermissionDenied ProviderStatus = "permission_denied"
	StatusHTTPError        ProviderStatus = "http_error"
	StatusUnavailable      ProviderStatus = "unavailable"
	StatusError            ProviderStatus = "error"
)

// Severity grades a piece of evidence.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Verdict is the final classification of an indicator.
type Verdict string

const (
	VerdictMalicious  Verdict = "malicious"
	VerdictSuspicious Verdict = "suspicious"
	VerdictUnknown    Verdict = "unknown"
	VerdictClean      Verdict = "clean"
)

// EvidenceItem is a descriptive finding reported by a provider. It never
// drives control flow; scoring only reads its category and severity.
type EvidenceItem struct {
	Title       string         `json:"title"`
	Category    string         `json:"category"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// ProviderError carries a classified provider failure.
type ProviderError struct {
	Code    ProviderStatus `json:"code"`
	Message string         `json:"message"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// ProviderResult is the normalized response from one provider for one
// indicator. Invariant: Status != ok implies Err is set and all numeric
// signal fields are nil.
type ProviderResult struct {
	Provider        string         `json:"provider"`
	Status          ProviderStatus `json:"status"`
	LatencyMs       int64          `json:"latency_ms"`
	Link            string         `json:"link"`
	Flags           map[string]any `json:"flags"`
	Reputation      *int           `json:"reputation"`
	MaliciousCount  *int           `json:"malicious_count"`
	SuspiciousCount *int           `json:"suspicious_count"`
	HarmlessCount   *int           `json:"harmless_count"`
	Confidence      *int           `json:"confidence"`
	Evidence        []EvidenceItem `json:"evidence"`
	Raw             []byte         `json:"-"`
	Err             *ProviderError `json:"error,omitempty"`
	Cached          bool           `json:"cached"`
	CacheAgeSeconds *int64         `json:"cache_age_seconds,omitempty"`
	// CachedAt is store bookkeeping; clients see cached/cache_age_seconds.
	CachedAt int64 `json:"-"`
}

// Indicator is a validated, canonicalized IOC value.
type Indicator struct {
	Value string        `json:"value"`
	Type  IndicatorType `json:"type"`
}

// Summary is the scored verdict over all provider results.
type Summary struct {
	Verdict     Verdict `json:"verdict"`
	Score       int     `json:"score"`
	Explanation string  `json:"explanation"`
	FirstSeen   string  `json:"first_seen,omitempty"`
	LastSeen    string  `json:"last_seen,omitempty"`
}

// Timing records the wall-clock span of a lookup.
type Timing struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	TotalMs    int64     `json:"total_ms"`
}

// LookupResult is the aggregate outcome of checking one indicator against
// every applicable provider. Provider slots are in fixed display order,
// never completion order.
type LookupResult struct {
	LookupID  string           `json:"lookup_id"`
	Indicator Indicator        `json:"ioc"`
	Summary   Summary          `json:"summary"`
	Providers []ProviderResult `json:"providers"`
	Timing    Timing           `json:"timing"`
}

// DebugEntry is one provider's stored raw payload for an indicator.
type DebugEntry struct {
	Provider  string          `json:"provider"`
	Cached    bool            `json:"cached"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	CachedAt  int64           `json:"cached_at,omitempty"`
	ExpiresAt int64           `json:"expires_at,omitempty"`
}

// DebugResult exposes the raw provider payloads behind a cached lookup.
type DebugResult struct {
	Indicator Indicator    `json:"ioc"`
	Providers []DebugEntry `json:"providers"`
}

// ProviderInfo describes one configured adapter.
type ProviderInfo struct {
	Name           string   `json:"name"`
	SupportedTypes []string `json:"supported_types"`
	CircuitOpen    bool     `json:"circuit_open"`
}

// JobStatus is the lifecycle state of a bulk job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	// JobCancelled is reserved for external cancellation; nothing sets it today.
	JobCancelled JobStatus = "cancelled"
)

// BulkItemResult is the outcome for one indicator within a bulk job.
type BulkItemResult struct {
	IOC         string        `json:"ioc"`
	Result      *LookupResult `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	ProcessedAt time.Time     `json:"processed_at"`
}

// BulkJob is a durable batch of indicator lookups with persisted progress.
type BulkJob struct {
	ID               string           `json:"id"`
	Status           JobStatus        `json:"status"`
	TotalIOCs        int              `json:"total_iocs"`
	ProcessedIOCs    int              `json:"processed_iocs"`
	CompletedIOCs    int              `json:"completed_iocs"`
	FailedIOCs       int              `json:"failed_iocs"`
	OriginalFilename string           `json:"original_filename"`
	FileSize         int64            `json:"file_size"`
	IOCList          []string         `json:"-"`
	Results          []BulkItemResult `json:"results,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	ForceRefresh     bool             `json:"force_refresh"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// BulkProgress is a point-in-time view of a running job.
type BulkProgress struct {
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Percentage float64   `json:"percentage"`
}

// CheckRequest is the request body for the check endpoint.
type CheckRequest struct {
	IOC          string `json:"ioc"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// BulkSubmitResponse is returned when a bulk job is accepted.
type BulkSubmitResponse struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	TotalIOCs int       `json:"total_iocs"`
}
