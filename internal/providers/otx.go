package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/models"
)

// OTX is the adapter for the AlienVault OTX API, the threat-intel-pulse
// source. Supports every indicator type.
type OTX struct {
	apiKey  string
	baseURL string
	paths   map[string]string
	policy  otxPolicy
	fetcher *fetcher
}

// otxPolicy holds the pulse-to-reputation constants. There is no upstream
// detection ratio to lean on, so the mapping is deliberate configuration,
// not provider fact.
type otxPolicy struct {
	pulsePoints  int
	pulseCap     int
	malwareBonus int
}

// NewOTX creates the OTX adapter.
func NewOTX(cfg *config.Config) *OTX {
	return &OTX{
		apiKey:  cfg.Providers.OTX.APIKey,
		baseURL: cfg.Providers.OTX.BaseURL,
		paths:   cfg.Providers.OTX.Paths,
		policy: otxPolicy{
			pulsePoints:  cfg.Scoring.OTXPulsePoints,
			pulseCap:     cfg.Scoring.OTXPulseCap,
			malwareBonus: cfg.Scoring.OTXMalwareBonus,
		},
		fetcher: newFetcher("otx", &cfg.Providers),
	}
}

// Name returns the provider registry name.
func (o *OTX) Name() string { return "otx" }

// CircuitOpen reports whether the adapter's breaker is open.
func (o *OTX) CircuitOpen() bool { return o.fetcher.circuitOpen() }

// Supports reports indicator type support; OTX covers all types.
func (o *OTX) Supports(t models.IndicatorType) bool {
	_, ok := o.paths[string(t)]
	return ok
}

// Fetch retrieves the general section for an indicator.
func (o *OTX) Fetch(ctx context.Context, ioc string, t models.IndicatorType) (json.RawMessage, error) {
	path, ok := o.paths[string(t)]
	if !ok {
		return nil, nil
	}
	url := o.baseURL + strings.Replace(path, "{ioc}", ioc, 1)
	return o.fetcher.getJSON(ctx, url, map[string]string{"X-OTX-API-KEY": o.apiKey})
}

type otxResponse struct {
	PulseInfo struct {
		Count  int `json:"count"`
		Pulses []struct {
			Tags []string `json:"tags"`
		} `json:"pulses"`
	} `json:"pulse_info"`
	Validation []any `json:"validation"`
	Reputation struct {
		ThreatScore *int `json:"threat_score"`
	} `json:"reputation"`
	City        string `json:"city"`
	CountryName string `json:"country_name"`
	ASN         string `json:"asn"`
	Alexa       string `json:"alexa"`
	Analysis    struct {
		Plugins map[string]struct {
			Results map[string]any `json:"results"`
		} `json:"plugins"`
	} `json:"analysis"`
}

// Normalize maps a successful OTX response onto the shared shape.
func (o *OTX) Normalize(raw json.RawMessage, ioc string, t models.IndicatorType) *models.ProviderResult {
	result := &models.ProviderResult{
		Provider: o.Name(),
		Status:   models.StatusOK,
		Link:     o.LinkOut(ioc, t),
		Flags:    map[string]any{},
		Evidence: []models.EvidenceItem{},
		Raw:      raw,
	}

	// OTX answers unknown indicators with an empty body.
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null")) {
		result.Status = models.StatusNotFound
		result.Err = &models.ProviderError{Code: models.StatusNotFound, Message: "no data found"}
		return result
	}

	var resp otxResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		result.Status = models.StatusError
		result.Err = &models.ProviderError{Code: models.StatusError, Message: "unparsable response"}
		return result
	}

	pulseCount := resp.PulseInfo.Count
	result.Flags["pulse_count"] = pulseCount
	result.Flags["validation"] = resp.Validation

	if pulseCount > 0 {
		severity := models.SeverityMedium
		switch {
		case pulseCount > 10:
			severity = models.SeverityCritical
		case pulseCount > 5:
			severity = models.SeverityHigh
		}
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Threat Intelligence",
			Category:    "threat_intel",
			Severity:    severity,
			Description: fmt.Sprintf("Found in %d threat intelligence reports", pulseCount),
			Attributes:  map[string]any{"pulse_count": pulseCount},
		})

		o.addTagEvidence(result, &resp)
	}

	switch {
	case t.IsIP():
		o.addIPEvidence(result, &resp)
	case t == models.TypeDomain:
		if resp.Alexa != "" {
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "Popularity",
				Category:    "reputation",
				Severity:    models.SeverityInfo,
				Description: fmt.Sprintf("Alexa rank: %s", resp.Alexa),
				Attributes:  map[string]any{"alexa_rank": resp.Alexa},
			})
		}
	case t.IsHash():
		o.addFileEvidence(result, &resp)
	}

	// Reputation is derived from pulse volume plus critical malware
	// evidence, under the configured policy constants.
	score := 0
	if pulseCount > 0 {
		score = pulseCount * o.policy.pulsePoints
		if score > o.policy.pulseCap {
			score = o.policy.pulseCap
		}
	}
	for _, ev := range result.Evidence {
		if ev.Category == "malware" && ev.Severity == models.SeverityCritical {
			score += o.policy.malwareBonus
		}
	}
	if score > 100 {
		score = 100
	}
	result.Reputation = intPtr(score)

	return result
}

// addTagEvidence derives tag, malware-family, targeting and attribution
// evidence from pulse tags.
func (o *OTX) addTagEvidence(result *models.ProviderResult, resp *otxResponse) {
	tags := make(map[string]bool)
	families := make(map[string]bool)
	countries := make(map[string]bool)
	adversaries := make(map[string]bool)

	for i, pulse := range resp.PulseInfo.Pulses {
		for _, tag := range pulse.Tags {
			if i < 10 {
				tags[tag] = true
			}
			lower := strings.ToLower(tag)
			switch {
			case containsAny(lower, "malware", "ransomware", "trojan", "backdoor"):
				families[tag] = true
			case strings.HasPrefix(tag, "country:"):
				countries[strings.SplitN(tag, ":", 2)[1]] = true
			case containsAny(lower, "apt", "group", "actor", "threat-actor"):
				adversaries[tag] = true
			}
		}
	}

	if len(tags) > 0 {
		list := sortedKeys(tags)
		shown := list
		if len(shown) > 10 {
			shown = shown[:10]
		}
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Tags",
			Category:    "classification",
			Severity:    models.SeverityInfo,
			Description: fmt.Sprintf("Tags: %s", strings.Join(shown, ", ")),
			Attributes:  map[string]any{"tags": list},
		})
	}
	if len(families) > 0 {
		list := sortedKeys(families)
		shown := list
		if len(shown) > 5 {
			shown = shown[:5]
		}
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Malware Families",
			Category:    "malware",
			Severity:    models.SeverityCritical,
			Description: fmt.Sprintf("Associated with malware: %s", strings.Join(shown, ", ")),
			Attributes:  map[string]any{"malware_families": list},
		})
	}
	if len(countries) > 0 {
		list := sortedKeys(countries)
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Targeted Countries",
			Category:    "targeting",
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("Targeted countries: %s", strings.Join(list, ", ")),
			Attributes:  map[string]any{"countries": list},
		})
	}
	if len(adversaries) > 0 {
		list := sortedKeys(adversaries)
		shown := list
		if len(shown) > 5 {
			shown = shown[:5]
		}
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Threat Actors",
			Category:    "attribution",
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Associated with threat actors: %s", strings.Join(shown, ", ")),
			Attributes:  map[string]any{"adversaries": list},
		})
	}
}

func (o *OTX) addIPEvidence(result *models.ProviderResult, resp *otxResponse) {
	if ts := resp.Reputation.ThreatScore; ts != nil {
		severity := models.SeverityInfo
		switch {
		case *ts > 2:
			severity = models.SeverityHigh
		case *ts > 0:
			severity = models.SeverityMedium
		}
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Reputation",
			Category:    "reputation",
			Severity:    severity,
			Description: fmt.Sprintf("Threat score: %d", *ts),
			Attributes:  map[string]any{"threat_score": *ts},
		})
	}

	if resp.City != "" || resp.CountryName != "" {
		var location []string
		if resp.City != "" {
			location = append(location, resp.City)
		}
		if resp.CountryName != "" {
			location = append(location, resp.CountryName)
		}
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Geolocation",
			Category:    "geolocation",
			Severity:    models.SeverityInfo,
			Description: fmt.Sprintf("Located in %s", strings.Join(location, ", ")),
			Attributes:  map[string]any{"city": resp.City, "country": resp.CountryName},
		})
	}

	if resp.ASN != "" {
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Network",
			Category:    "network",
			Severity:    models.SeverityInfo,
			Description: fmt.Sprintf("ASN: %s", resp.ASN),
			Attributes:  map[string]any{"asn": resp.ASN},
		})
	}
}

func (o *OTX) addFileEvidence(result *models.ProviderResult, resp *otxResponse) {
	plugins := resp.Analysis.Plugins
	if len(plugins) == 0 {
		return
	}

	if info, ok := plugins["file_info"]; ok {
		fileType, _ := info.Results["file_type"].(string)
		fileSize := info.Results["file_size"]
		var parts []string
		if fileType != "" {
			parts = append(parts, fmt.Sprintf("Type: %s", fileType))
		}
		if fileSize != nil {
			parts = append(parts, fmt.Sprintf("Size: %v", fileSize))
		}
		if len(parts) > 0 {
			result.Evidence = append(result.Evidence, models.EvidenceItem{
				Title:       "File Information",
				Category:    "file",
				Severity:    models.SeverityInfo,
				Description: strings.Join(parts, ", "),
				Attributes:  map[string]any{"file_type": fileType, "file_size": fileSize},
			})
		}
	}

	detections := make(map[string]any)
	for name, plugin := range plugins {
		if !strings.HasPrefix(name, "av_") {
			continue
		}
		if det, ok := plugin.Results["detection"]; ok && det != nil && det != "" {
			detections[strings.TrimPrefix(name, "av_")] = det
		}
	}
	if len(detections) > 0 {
		result.Evidence = append(result.Evidence, models.EvidenceItem{
			Title:       "Antivirus Detections",
			Category:    "malware",
			Severity:    models.SeverityCritical,
			Description: fmt.Sprintf("Detected by %d antivirus engines", len(detections)),
			Attributes:  map[string]any{"av_results": detections},
		})
	}
}

// LinkOut returns the OTX UI URL for an indicator.
func (o *OTX) LinkOut(ioc string, t models.IndicatorType) string {
	const base = "https://otx.alienvault.com/indicator"
	switch {
	case t.IsIP():
		return fmt.Sprintf("%s/ip/%s", base, ioc)
	case t == models.TypeDomain:
		return fmt.Sprintf("%s/domain/%s", base, ioc)
	case t == models.TypeURL:
		return fmt.Sprintf("%s/url/%s", base, ioc)
	case t.IsHash():
		return fmt.Sprintf("%s/file/%s", base, ioc)
	default:
		return "https://otx.alienvault.com"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
