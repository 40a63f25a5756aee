// Package scoring converts normalized provider results into a single
// weighted verdict with explanation.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/models"
)

// reputationCap bounds any single provider's contribution so one source
// cannot alone push the final score past it.
const reputationCap = 80

// Scorer computes verdicts from provider results.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a scorer with the given weights and thresholds.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

type contribution struct {
	provider string
	capped   int
}

// Summarize computes the weighted verdict over all provider results.
// Only results with status ok and a reputation contribute to the score;
// evidence from every result still feeds first/last seen and explanation.
func (s *Scorer) Summarize(results []models.ProviderResult) models.Summary {
	summary := models.Summary{Verdict: models.VerdictUnknown}

	var weighted, totalWeight float64
	var contributions []contribution

	for _, r := range results {
		if r.Status != models.StatusOK || r.Reputation == nil {
			continue
		}
		capped := *r.Reputation
		if capped > reputationCap {
			capped = reputationCap
		}
		weight := s.weightFor(r.Provider)
		weighted += float64(capped) * weight
		totalWeight += weight
		contributions = append(contributions, contribution{provider: r.Provider, capped: capped})
	}

	score := 0
	if totalWeight > 0 {
		score = int(math.Round(weighted / totalWeight))
	}
	summary.Score = score
	summary.Verdict = s.verdictFor(score)
	summary.FirstSeen, summary.LastSeen = seenRange(results)
	summary.Explanation = s.explain(summary.Verdict, contributions, results)
	return summary
}

func (s *Scorer) weightFor(provider string) float64 {
	if w, ok := s.cfg.Weights[provider]; ok {
		return w
	}
	return s.cfg.DefaultWeight
}

func (s *Scorer) verdictFor(score int) models.Verdict {
	switch {
	case score >= s.cfg.MaliciousThreshold:
		return models.VerdictMalicious
	case score >= s.cfg.SuspiciousThreshold:
		return models.VerdictSuspicious
	case score >= s.cfg.UnknownThreshold:
		return models.VerdictUnknown
	default:
		return models.VerdictClean
	}
}

// explain names the top one or two score drivers above their significance
// floors, plus any qualifying evidence categories, falling back to a
// generic phrase for the verdict.
func (s *Scorer) explain(verdict models.Verdict, contributions []contribution, results []models.ProviderResult) string {
	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].capped > contributions[j].capped
	})

	var parts []string
	if len(contributions) > 0 && contributions[0].capped > 50 {
		parts = append(parts, fmt.Sprintf("high %s score (%d)", contributions[0].provider, contributions[0].capped))
	}
	if len(contributions) > 1 && contributions[1].capped > 30 {
		parts = append(parts, fmt.Sprintf("%s score (%d)", contributions[1].provider, contributions[1].capped))
	}

	var malware, network, reputation bool
	for _, r := range results {
		for _, ev := range r.Evidence {
			if ev.Severity != models.SeverityHigh && ev.Severity != models.SeverityCritical {
				continue
			}
			switch ev.Category {
			case "malware":
				malware = true
			case "network":
				network = true
			case "reputation":
				reputation = true
			}
		}
	}
	if malware {
		parts = append(parts, "malware detections")
	}
	if reputation {
		parts = append(parts, "poor reputation")
	}
	if network {
		parts = append(parts, "suspicious network indicators")
	}

	if len(parts) == 0 {
		switch verdict {
		case models.VerdictMalicious:
			parts = []string{"multiple malicious indicators"}
		case models.VerdictSuspicious:
			parts = []string{"some suspicious indicators"}
		case models.VerdictClean:
			parts = []string{"no malicious indicators"}
		default:
			parts = []string{"insufficient data"}
		}
	}

	return "Based on " + strings.Join(parts, ", ")
}

// seenRange finds the min first_seen and max last_seen across all evidence
// attributes. Timestamps compare as strings; the first occurrence wins ties.
func seenRange(results []models.ProviderResult) (first, last string) {
	for _, r := range results {
		for _, ev := range r.Evidence {
			if v, ok := ev.Attributes["first_seen"].(string); ok && v != "" {
				if first == "" || v < first {
					first = v
				}
			}
			if v, ok := ev.Attributes["last_seen"].(string); ok && v != "" {
				if last == "" || v > last {
					last = v
				}
			}
		}
	}
	return first, last
}
