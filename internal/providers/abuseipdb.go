package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/models"
)

// AbuseIPDB is the adapter for the AbuseIPDB v2 API, the abuse-report
// source. IPv4 only.
type AbuseIPDB struct {
	apiKey  string
	baseURL string
	paths   map[string]string
	fetcher *fetcher
}

// NewAbuseIPDB creates the AbuseIPDB adapter.
func NewAbuseIPDB(cfg *config.Config) *AbuseIPDB {
	return &AbuseIPDB{
		apiKey:  cfg.Providers.AbuseIPDB.APIKey,
		baseURL: cfg.Providers.AbuseIPDB.BaseURL,
		paths:   cfg.Providers.AbuseIPDB.Paths,
		fetcher: newFetcher("abuseipdb", &cfg.Providers),
	}
}

// Name returns the provider registry name.
func (a *AbuseIPDB) Name() string { return "abuseipdb" }

// CircuitOpen reports whether the adapter's breaker is open.
func (a *AbuseIPDB) CircuitOpen() bool { return a.fetcher.circuitOpen() }

// Supports reports indicator type support; AbuseIPDB only handles IPv4.
func (a *AbuseIPDB) Supports(t models.IndicatorType) bool {
	_, ok := a.paths[string(t)]
	return ok
}

// Fetch retrieves the abuse report summary for an address.
func (a *AbuseIPDB) Fetch(ctx context.Context, ioc string, t models.IndicatorType) (json.RawMessage, error) {
	path, ok := a.paths[string(t)]
	if !ok {
		return nil, nil
	}

	q := url.Values{}
	q.Set("ipAddress", ioc)
	q.Set("maxAgeInDays", "90")
	q.Set("verbose", "true")

	endpoint := a.baseURL + strings.Replace(path, "{ioc}", ioc, 1) + "?" + q.Encode()
	return a.fetcher.getJSON(ctx, endpoint, map[string]string{
		"Key":    a.apiKey,
		"Accept": "application/json",
	})
}

type abuseResponse struct {
	Data struct {
		AbuseConfidenceScore *int   `json:"abuseConfidenceScore"`
		IsPublic             bool   `json:"isPublic"`
		IsWhitelisted        bool   `json:"isWhitelisted"`
		TotalReports         int    `json:"totalReports"`
		NumDistinctUsers     int    `json:"numDistinctUsers"`
		CountryCode          string `json:"countryCode"`
		CountryName          string `json:"countryName"`
		ISP                  string `json:"isp"`
		UsageType            string `json:"usageType"`
		Reports              []struct {
			Categories []int `json:"categories"`
		} `json:"reports"`
	} `json:"data"`
}

// Normalize maps a successful AbuseIPDB response onto the shared shape.
func (a *AbuseIPDB) Normalize(raw json.RawMessage, ioc string, t models.IndicatorType) *models.ProviderResult {
	result := &models.ProviderResult{
		Provider: a.Name(),
		Status:   models.StatusOK,
		Link:     a.LinkOut(ioc, t),
		Flags:    map[string]any{},
		Evidence: []models.EvidenceItem{},
		Raw:      raw,
	}

	var resp abuseResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		result.Status = models.StatusError
		result.Err = &models.ProviderError{Code: models.StatusError, Message: "unparsable response"}
		return result
	}
	data := resp.Data

	// The confidence score doubles as our reputation signal.
	if data.AbuseConfidenceScore != nil {
		result.Confidence = intPtr(*data.AbuseConfidenceScore)
		result.Reputation = intPtr(*data.AbuseConfidenceScore)
	}

	result.Flags = map[string]any{
		"is_public":          data.IsPublic,
		"is_whitelisted":     data.IsWhitelisted,
		"total_reports":      data.TotalReports,
		"num_distinct_users": data.NumDistinctUsers,
	}

	if data.CountryCode != "" && data.CountryName != "" {
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Geolocation",
			Category:    "geolocation",
			Severity:    models.SeverityInfo,
			Description: fmt.Sprintf("Located in %s (%s)", data.CountryName, data.CountryCode),
			Attributes:  map[string]any{"country_code": data.CountryCode, "country_name": data.CountryName},
		})
	}

	if data.ISP != "" {
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Network",
			Category:    "network",
			Severity:    models.SeverityInfo,
			Description: fmt.Sprintf("ISP: %s", data.ISP),
			Attributes:  map[string]any{"isp": data.ISP},
		})
	}

	if data.UsageType != "" {
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Usage Type",
			Category:    "network",
			Severity:    models.SeverityInfo,
			Description: fmt.Sprintf("Usage: %s", data.UsageType),
			Attributes:  map[string]any{"usage_type": data.UsageType},
		})
	}

	if data.TotalReports > 0 {
		severity := models.SeverityMedium
		switch {
		case data.TotalReports > 100:
			severity = models.SeverityCritical
		case data.TotalReports > 10:
			severity = models.SeverityHigh
		}
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Abuse Reports",
			Category:    "reputation",
			Severity:    severity,
			Description: fmt.Sprintf("Reported %d times by %d users", data.TotalReports, data.NumDistinctUsers),
			Attributes:  map[string]any{"total_reports": data.TotalReports, "distinct_users": data.NumDistinctUsers},
		})

		categories := make(map[int]bool)
		for i, report := range data.Reports {
			if i >= 5 {
				break
			}
			for _, c := range report.Categories {
				categories[c] = true
			}
		}
		if len(categories) > 0 {
			ids := make([]int, 0, len(categories))
			for c := range categories {
				ids = append(ids, c)
			}
			sort.Ints(ids)
			list := make([]string, 0, len(ids))
			for _, c := range ids {
				list = append(list, fmt.Sprintf("%d", c))
			}
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "Report Categories",
				Category:    "reputation",
				Severity:    models.SeverityHigh,
				Description: fmt.Sprintf("Reported for: %s", strings.Join(list, ", ")),
				Attributes:  map[string]any{"categories": ids},
			})
		}
	}

	return result
}

// LinkOut returns the AbuseIPDB UI URL for an indicator.
func (a *AbuseIPDB) LinkOut(ioc string, t models.IndicatorType) string {
	if t == models.TypeIPv4 {
		return fmt.Sprintf("https://www.abuseipdb.com/check/%s", ioc)
	}
	return "https://www.abuseipdb.com"
}
