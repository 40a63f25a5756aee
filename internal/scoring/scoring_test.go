package scoring

import (
	"strings"
	"testing"

	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/models"
)

func newScorer() *Scorer {
	return New(config.DefaultConfig().Scoring)
}

func okResult(provider string, reputation int) models.ProviderResult {
	return models.ProviderResult{
		Provider:   provider,
		Status:     models.StatusOK,
		Reputation: &reputation,
	}
}

func errResult(provider string) models.ProviderResult {
	return models.ProviderResult{
		Provider: provider,
		Status:   models.StatusError,
		Err:      &models.ProviderError{Code: models.StatusError, Message: "boom"},
	}
}

// Two high-reputation providers both capped at 80 must land exactly on the
// malicious threshold: round((80*0.5 + 80*0.3) / 0.8) = 80.
func TestSummarizeCapAndWeights(t *testing.T) {
	results := []models.ProviderResult{
		okResult("virustotal", 90),
		okResult("otx", 85),
	}

	summary := newScorer().Summarize(results)
	if summary.Score != 80 {
		t.Errorf("score = %d, want 80", summary.Score)
	}
	if summary.Verdict != models.VerdictMalicious {
		t.Errorf("verdict = %s, want malicious", summary.Verdict)
	}
}

func TestSummarizeNoContributors(t *testing.T) {
	results := []models.ProviderResult{
		errResult("virustotal"),
		errResult("abuseipdb"),
		errResult("otx"),
	}

	summary := newScorer().Summarize(results)
	if summary.Score != 0 {
		t.Errorf("score = %d, want 0", summary.Score)
	}
	if summary.Verdict != models.VerdictClean {
		t.Errorf("verdict = %s, want clean", summary.Verdict)
	}
	if !strings.Contains(summary.Explanation, "insufficient data") {
		t.Errorf("explanation = %q, want insufficient data fallback", summary.Explanation)
	}
}

// Fallback phrases depend on the verdict when no contributor clears the
// significance floors and no qualifying evidence exists.
func TestSummarizeGenericExplanations(t *testing.T) {
	tests := []struct {
		name       string
		reputation int
		wantPhrase string
	}{
		{"clean", 5, "no malicious indicators"},
		{"unknown", 30, "insufficient data"},
		{"suspicious low driver", 50, "some suspicious indicators"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := []models.ProviderResult{okResult("virustotal", tt.reputation)}
			summary := newScorer().Summarize(results)
			if !strings.Contains(summary.Explanation, tt.wantPhrase) {
				t.Errorf("explanation = %q, want phrase %q", summary.Explanation, tt.wantPhrase)
			}
		})
	}
}

func TestSummarizeExplanationDrivers(t *testing.T) {
	results := []models.ProviderResult{
		okResult("virustotal", 75),
		okResult("abuseipdb", 40),
	}

	summary := newScorer().Summarize(results)
	if !strings.Contains(summary.Explanation, "high virustotal score (75)") {
		t.Errorf("explanation missing top driver: %q", summary.Explanation)
	}
	if !strings.Contains(summary.Explanation, "abuseipdb score (40)") {
		t.Errorf("explanation missing second driver: %q", summary.Explanation)
	}
}

func TestSummarizeEvidenceFlags(t *testing.T) {
	r := okResult("virustotal", 10)
	r.Evidence = []models.EvidenceItem{
		{Category: "malware", Severity: models.SeverityCritical},
		{Category: "network", Severity: models.SeverityHigh},
		{Category: "reputation", Severity: models.SeverityInfo}, // below floor, ignored
	}

	summary := newScorer().Summarize([]models.ProviderResult{r})
	if !strings.Contains(summary.Explanation, "malware detections") {
		t.Errorf("explanation missing malware flag: %q", summary.Explanation)
	}
	if !strings.Contains(summary.Explanation, "suspicious network indicators") {
		t.Errorf("explanation missing network flag: %q", summary.Explanation)
	}
	if strings.Contains(summary.Explanation, "poor reputation") {
		t.Errorf("info-severity reputation evidence leaked into explanation: %q", summary.Explanation)
	}
}

// first_seen/last_seen compare as strings across all providers' evidence.
func TestSummarizeSeenRange(t *testing.T) {
	a := okResult("virustotal", 10)
	a.Evidence = []models.EvidenceItem{
		{Category: "threat_intel", Severity: models.SeverityInfo, Attributes: map[string]any{
			"first_seen": "2024-03-01T00:00:00Z",
			"last_seen":  "2024-05-01T00:00:00Z",
		}},
	}
	b := okResult("otx", 10)
	b.Evidence = []models.EvidenceItem{
		{Category: "threat_intel", Severity: models.SeverityInfo, Attributes: map[string]any{
			"first_seen": "2024-01-15T00:00:00Z",
			"last_seen":  "2024-04-01T00:00:00Z",
		}},
	}

	summary := newScorer().Summarize([]models.ProviderResult{a, b})
	if summary.FirstSeen != "2024-01-15T00:00:00Z" {
		t.Errorf("first_seen = %q", summary.FirstSeen)
	}
	if summary.LastSeen != "2024-05-01T00:00:00Z" {
		t.Errorf("last_seen = %q", summary.LastSeen)
	}
}

// An unknown provider name falls back to the default weight instead of
// being dropped.
func TestSummarizeUnknownProviderWeight(t *testing.T) {
	summary := newScorer().Summarize([]models.ProviderResult{okResult("shodan", 60)})
	if summary.Score != 60 {
		t.Errorf("score = %d, want 60 (single provider, any weight)", summary.Score)
	}
}
