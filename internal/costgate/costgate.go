// Package costgate implements Stage 1.5: a cheap heuristic impact
// estimate from Stage 1 outputs that decides whether the expensive
// content fetch is worth it. Its decision overrides should_fetch_full.
package costgate

import (
	"fmt"
	"strings"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/store"
)

// Bucket is the coarse origin tag that selects a gate threshold.
type Bucket string

const (
	BucketHoldings Bucket = "HOLDINGS"
	BucketMacro    Bucket = "MACRO"
)

// highImpactTags are event markers that add a flat bonus to the estimate.
var highImpactTags = []string{
	"earnings", "merger", "acquisition", "m&a", "ipo", "bankruptcy",
	"lawsuit", "regulation", "macro", "guidance", "product_tech", "industry_trend",
}

// reputableSources get a small credibility bonus.
var reputableSources = []string{
	"reuters", "bloomberg", "wsj", "financial times", "cnbc", "marketwatch",
}

// BucketOf maps searched_by to a bucket: exactly "MACRO" (case-insensitive)
// is macro, everything else is a holdings search.
func BucketOf(searchedBy string) Bucket {
	if strings.ToUpper(searchedBy) == string(BucketMacro) {
		return BucketMacro
	}
	return BucketHoldings
}

// LikelyImpact computes the heuristic impact estimate from Stage 1
// outputs: 10 per relevance point, +20 for a high-impact event tag, +10
// for any ticker or sector mention, +5 for a reputable source, capped at
// 100.
func LikelyImpact(a *core.Article) int {
	score := 0
	if a.TitleRelevance != nil {
		score = 10 * *a.TitleRelevance
	}

	eventType := strings.ToLower(a.TitleEventType)
	for _, tag := range highImpactTags {
		if strings.Contains(eventType, tag) {
			score += 20
			break
		}
	}

	if len(a.TitleTickerMatches) > 0 || len(a.TitleSectorMatches) > 0 {
		score += 10
	}

	source := strings.ToLower(a.SourceName)
	for _, rep := range reputableSources {
		if strings.Contains(source, rep) {
			score += 5
			break
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Result is the Stage 1.5 outcome for one article.
type Result struct {
	URL          string
	Skipped      bool
	SkipReason   string
	LikelyImpact int
	Bucket       Bucket
	Proceed      bool
	Status       core.Status
}

// Gate runs Stage 1.5 over store rows.
type Gate struct {
	store      *store.Store
	thresholds config.Thresholds
}

// New creates a Stage 1.5 gate.
func New(s *store.Store, thresholds config.Thresholds) *Gate {
	return &Gate{store: s, thresholds: thresholds}
}

// Threshold returns the gate cutoff for a bucket.
func (g *Gate) Threshold(b Bucket) int {
	if b == BucketMacro {
		return g.thresholds.ProcessGateMacro
	}
	return g.thresholds.ProcessGateHoldings
}

// Process evaluates one article: computes likely_impact, persists it, and
// either confirms the fetch (overriding Stage 1's should_fetch_full) or
// parks the article as low_priority. Terminal and untriaged rows are
// skipped.
func (g *Gate) Process(a *core.Article) (Result, error) {
	row, err := g.store.GetByURL(a.URL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load article: %w", err)
	}
	if row == nil {
		return Result{URL: a.URL, Skipped: true, SkipReason: "notFound"}, nil
	}
	if row.Status.Terminal() || row.Status == core.StatusLowPriority {
		return Result{URL: a.URL, Skipped: true, SkipReason: "wrongStatus", Status: row.Status}, nil
	}
	if !row.Triaged() {
		return Result{URL: a.URL, Skipped: true, SkipReason: "prerequisiteMissing"}, nil
	}
	if row.LikelyImpact != nil {
		return Result{
			URL:          a.URL,
			Skipped:      true,
			SkipReason:   "alreadyGated",
			LikelyImpact: *row.LikelyImpact,
			Bucket:       BucketOf(row.SearchedBy),
			Proceed:      row.ShouldFetchFull,
			Status:       row.Status,
		}, nil
	}

	impact := LikelyImpact(row)
	bucket := BucketOf(row.SearchedBy)
	proceed := impact >= g.Threshold(bucket)

	fields := map[string]any{
		"likely_impact": impact,
		// Stage 1.5 owns the final fetch decision.
		"should_fetch_full": proceed,
	}
	status := row.Status
	if !proceed {
		status = core.StatusLowPriority
		fields["status"] = status
	}

	if err := g.store.UpdateArticle(a.URL, fields); err != nil {
		return Result{}, fmt.Errorf("failed to persist cost gate: %w", err)
	}

	return Result{
		URL:          a.URL,
		LikelyImpact: impact,
		Bucket:       bucket,
		Proceed:      proceed,
		Status:       status,
	}, nil
}
