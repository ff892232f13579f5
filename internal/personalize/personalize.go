// Package personalize implements Stage 4: holding-relevance and
// profile-adjusted scores for one user's holdings and profile. It never
// generates text; the only outputs are scores and the cached profile tag.
package personalize

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/logger"
	"marketbrief/internal/store"
)

// cheapPathImpact is the impact score below which the blend formula is
// skipped and the adjusted score is a plain fraction of impact.
const cheapPathImpact = 40

// Result is the Stage 4 outcome for one article.
type Result struct {
	URL                  string
	Skipped              bool
	SkipReason           string
	Status               core.Status
	HoldingRelevance     float64
	ProfileAdjustedScore float64
	// MatchedHoldings is user-specific and recomputed per request; it is
	// never persisted on the article row.
	MatchedHoldings []string
	Err             error
}

// Personalizer runs Stage 4.
type Personalizer struct {
	store      *store.Store
	thresholds config.Thresholds
	log        zerolog.Logger
}

func New(s *store.Store, thresholds config.Thresholds) *Personalizer {
	return &Personalizer{
		store:      s,
		thresholds: thresholds,
		log:        logger.With("personalize"),
	}
}

// ProcessBatch personalizes a batch for one (holdings, profile) context.
// Rows already scored for this profile are returned from cache; a row
// scored for a different profile is recomputed. All writes land in one
// transaction.
func (p *Personalizer) ProcessBatch(articles []*core.Article, holdings []core.Holding, profile core.Profile) ([]Result, error) {
	if !profile.Valid() {
		profile = core.ProfileBalanced
	}
	if len(articles) == 0 {
		return nil, nil
	}

	urls := make([]string, len(articles))
	for i, a := range articles {
		urls[i] = a.URL
	}
	existing, err := p.store.GetByURLs(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing rows: %w", err)
	}

	held := normalizedHoldings(holdings)
	results := make([]Result, len(articles))
	var updates []store.Update

	for i, a := range articles {
		row := existing[a.URL]
		switch {
		case row == nil:
			results[i] = Result{URL: a.URL, Skipped: true, SkipReason: "notFound"}
			continue
		case row.ProfileTypeCached == string(profile) && row.ProfileAdjustedScore != nil:
			results[i] = Result{
				URL:                  a.URL,
				Skipped:              true,
				SkipReason:           "cached",
				Status:               row.Status,
				HoldingRelevance:     row.HoldingRelevanceScore,
				ProfileAdjustedScore: *row.ProfileAdjustedScore,
				MatchedHoldings:      matchedHoldings(row.MatchedTickers, held),
			}
			continue
		case row.Status != core.StatusLLMProcessed && row.Status != core.StatusPersonalized:
			results[i] = Result{URL: a.URL, Skipped: true, SkipReason: "wrongStatus", Status: row.Status}
			continue
		case row.ImpactScore == nil:
			results[i] = Result{URL: a.URL, Skipped: true, SkipReason: "prerequisiteMissing", Status: row.Status}
			continue
		}

		out := p.score(row, held, profile)
		results[i] = out
		updates = append(updates, store.Update{URL: a.URL, Fields: map[string]any{
			"holding_relevance_score": out.HoldingRelevance,
			"profile_adjusted_score":  out.ProfileAdjustedScore,
			"profile_type_cached":     string(profile),
			"status":                  out.Status,
		}})
	}

	if err := p.store.UpdateArticles(updates); err != nil {
		return nil, fmt.Errorf("failed to persist personalization batch: %w", err)
	}
	return results, nil
}

// score computes both Stage 4 scores for one row.
func (p *Personalizer) score(row *core.Article, held map[string]bool, profile core.Profile) Result {
	impact := *row.ImpactScore
	matched := matchedHoldings(row.MatchedTickers, held)
	hr := p.holdingRelevance(len(matched))

	// Low-impact rows skip the blend: they stay personalized at a plain
	// fraction of impact instead of being discarded.
	if impact < cheapPathImpact {
		return Result{
			URL:                  row.URL,
			Status:               core.StatusPersonalized,
			HoldingRelevance:     hr,
			ProfileAdjustedScore: math.Min(100, impact*0.6),
			MatchedHoldings:      matched,
		}
	}

	var adjusted float64
	switch profile {
	case core.ProfileFocus:
		adjusted = 1.2*hr + 0.3*impact
	case core.ProfileBroad:
		adjusted = 0.4*hr + 0.6*impact
	default:
		adjusted = 0.6*hr + 0.4*impact
	}
	adjusted = math.Min(100, adjusted)

	status := core.StatusPersonalized
	if adjusted < float64(p.thresholds.Stage4MinScore) {
		status = core.StatusDiscarded
	}
	return Result{
		URL:                  row.URL,
		Status:               status,
		HoldingRelevance:     hr,
		ProfileAdjustedScore: adjusted,
		MatchedHoldings:      matched,
	}
}

// holdingRelevance applies the base/bonus/per-match formula with its cap.
func (p *Personalizer) holdingRelevance(matches int) float64 {
	t := p.thresholds
	if matches == 0 {
		return float64(t.RelevanceBase)
	}
	hr := t.RelevanceBase + t.RelevanceBonus + t.RelevancePerMatch*matches
	if hr > t.RelevanceMax {
		hr = t.RelevanceMax
	}
	return float64(hr)
}

func normalizedHoldings(holdings []core.Holding) map[string]bool {
	held := make(map[string]bool, len(holdings))
	for _, h := range holdings {
		if t := core.NormalizeTicker(h.Ticker); t != "" {
			held[t] = true
		}
	}
	return held
}

// matchedHoldings intersects an article's mentioned tickers with the
// user's holdings, deduplicated, preserving mention order.
func matchedHoldings(tickers []string, held map[string]bool) []string {
	matched := []string{}
	seen := map[string]bool{}
	for _, t := range tickers {
		norm := core.NormalizeTicker(t)
		if norm == "" || seen[norm] || !held[norm] {
			continue
		}
		seen[norm] = true
		matched = append(matched, norm)
	}
	return matched
}
