package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/models"
)

// VirusTotal is the adapter for the VirusTotal v3 API, the primary
// detection-engine source. Supports every indicator type.
type VirusTotal struct {
	apiKey  string
	baseURL string
	paths   map[string]string
	fetcher *fetcher
}

// NewVirusTotal creates the VirusTotal adapter.
func NewVirusTotal(cfg *config.Config) *VirusTotal {
	return &VirusTotal{
		apiKey:  cfg.Providers.VirusTotal.APIKey,
		baseURL: cfg.Providers.VirusTotal.BaseURL,
		paths:   cfg.Providers.VirusTotal.Paths,
		fetcher: newFetcher("virustotal", &cfg.Providers),
	}
}

// Name returns the provider registry name.
func (v *VirusTotal) Name() string { return "virustotal" }

// CircuitOpen reports whether the adapter's breaker is open.
func (v *VirusTotal) CircuitOpen() bool { return v.fetcher.circuitOpen() }

// Supports reports indicator type support; VirusTotal covers all types.
func (v *VirusTotal) Supports(t models.IndicatorType) bool {
	_, ok := v.paths[string(t)]
	return ok
}

// Fetch retrieves the raw VirusTotal object for an indicator.
func (v *VirusTotal) Fetch(ctx context.Context, ioc string, t models.IndicatorType) (json.RawMessage, error) {
	path, ok := v.paths[string(t)]
	if !ok {
		return nil, nil
	}

	// The URL endpoint addresses URLs by their unpadded base64url form.
	value := ioc
	if t == models.TypeURL {
		value = base64.RawURLEncoding.EncodeToString([]byte(ioc))
	}

	url := v.baseURL + strings.Replace(path, "{ioc}", value, 1)
	return v.fetcher.getJSON(ctx, url, map[string]string{"x-apikey": v.apiKey})
}

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
			Country           string         `json:"country"`
			ASOwner           string         `json:"as_owner"`
			Registrar         string         `json:"registrar"`
			CreationDate      int64          `json:"creation_date"`
			TypeDescription   string         `json:"type_description"`
			Names             []string       `json:"names"`
		} `json:"attributes"`
	} `json:"data"`
}

// Normalize maps a successful VirusTotal response onto the shared shape.
func (v *VirusTotal) Normalize(raw json.RawMessage, ioc string, t models.IndicatorType) *models.ProviderResult {
	result := &models.ProviderResult{
		Provider: v.Name(),
		Status:   models.StatusOK,
		Link:     v.LinkOut(ioc, t),
		Flags:    map[string]any{},
		Evidence: []models.EvidenceItem{},
		Raw:      raw,
	}

	var resp vtResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		result.Status = models.StatusError
		result.Err = &models.ProviderError{Code: models.StatusError, Message: "unparsable response"}
		return result
	}
	attrs := resp.Data.Attributes

	stats := attrs.LastAnalysisStats
	malicious := stats["malicious"]
	suspicious := stats["suspicious"]
	harmless := stats["harmless"]
	result.MaliciousCount = intPtr(malicious)
	result.SuspiciousCount = intPtr(suspicious)
	result.HarmlessCount = intPtr(harmless)

	totalScans := 0
	for _, n := range stats {
		totalScans += n
	}
	result.Flags["total_scans"] = totalScans
	if totalScans > 0 {
		result.Flags["detection_ratio"] = malicious * 100 / totalScans
	} else {
		result.Flags["detection_ratio"] = 0
	}

	// Reputation: malicious engines weigh full, suspicious half.
	totalVotes := totalScans
	if totalVotes == 0 {
		totalVotes = 1
	}
	result.Reputation = intPtr((malicious*100 + suspicious*50) / totalVotes)

	switch {
	case t.IsIP():
		if attrs.Country != "" {
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "Geolocation",
				Category:    "geolocation",
				Severity:    models.SeverityInfo,
				Description: fmt.Sprintf("Located in %s", attrs.Country),
				Attributes:  map[string]any{"country": attrs.Country},
			})
		}
		if attrs.ASOwner != "" {
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "Network",
				Category:    "network",
				Severity:    models.SeverityInfo,
				Description: fmt.Sprintf("Owned by %s", attrs.ASOwner),
				Attributes:  map[string]any{"asn_owner": attrs.ASOwner},
			})
		}
	case t == models.TypeDomain:
		if attrs.Registrar != "" {
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "Registration",
				Category:    "whois",
				Severity:    models.SeverityInfo,
				Description: fmt.Sprintf("Registered through %s", attrs.Registrar),
				Attributes:  map[string]any{"registrar": attrs.Registrar},
			})
		}
		if attrs.CreationDate != 0 {
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "Domain Age",
				Category:    "whois",
				Severity:    models.SeverityInfo,
				Description: fmt.Sprintf("Created at %d", attrs.CreationDate),
				Attributes:  map[string]any{"creation_date": attrs.CreationDate},
			})
		}
	case t.IsHash():
		if attrs.TypeDescription != "" {
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "File Type",
				Category:    "file",
				Severity:    models.SeverityInfo,
				Description: attrs.TypeDescription,
				Attributes:  map[string]any{"file_type": attrs.TypeDescription},
			})
		}
		if len(attrs.Names) > 0 {
			shown := attrs.Names
			if len(shown) > 3 {
				shown = shown[:3]
			}
			kept := attrs.Names
			if len(kept) > 10 {
				kept = kept[:10]
			}
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "File Names",
				Category:    "file",
				Severity:    models.SeverityInfo,
				Description: fmt.Sprintf("Known as %s", strings.Join(shown, ", ")),
				Attributes:  map[string]any{"names": kept},
			})
		}
	}

	if malicious > 0 {
		severity := models.SeverityHigh
		if malicious > 10 {
			severity = models.SeverityCritical
		}
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Detections",
			Category:    "malware",
			Severity:    severity,
			Description: fmt.Sprintf("Detected as malicious by %d engines", malicious),
			Attributes:  map[string]any{"detection_count": malicious},
		})
	}

	return result
}

// LinkOut returns the VirusTotal GUI URL for an indicator.
func (v *VirusTotal) LinkOut(ioc string, t models.IndicatorType) string {
	const base = "https://www.virustotal.com/gui"
	switch {
	case t.IsIP():
		return fmt.Sprintf("%s/ip-address/%s/detection", base, ioc)
	case t == models.TypeDomain:
		return fmt.Sprintf("%s/domain/%s/detection", base, ioc)
	case t == models.TypeURL:
		encoded := base64.RawURLEncoding.EncodeToString([]byte(ioc))
		return fmt.Sprintf("%s/url/%s/detection", base, encoded)
	case t.IsHash():
		return fmt.Sprintf("%s/file/%s/detection", base, ioc)
	default:
		return fmt.Sprintf("%s/search/%s", base, ioc)
	}
}
