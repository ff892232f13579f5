// Package dedup marks near-duplicate articles after Stage 2. A duplicate
// row points at its original through is_duplicate_of_article_id and never
// reaches Stage 3.
package dedup

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/fingerprint"
	"marketbrief/internal/logger"
	"marketbrief/internal/store"
)

// candidateLimit bounds the per-article candidate scan.
const candidateLimit = 50

// Match names which comparison identified the duplicate.
type Match string

const (
	MatchNormalizedURL Match = "normalized_url"
	MatchCanonicalURL  Match = "canonical_url"
	MatchFingerprint   Match = "fingerprint"
)

// Result is the dedup outcome for one article.
type Result struct {
	URL         string
	Skipped     bool
	SkipReason  string
	IsDuplicate bool
	DuplicateOf int64
	MatchedBy   Match
	Err         error
}

// Deduplicator compares freshly fetched articles against live rows.
type Deduplicator struct {
	store      *store.Store
	thresholds config.Thresholds
	log        zerolog.Logger
}

func New(s *store.Store, thresholds config.Thresholds) *Deduplicator {
	return &Deduplicator{
		store:      s,
		thresholds: thresholds,
		log:        logger.With("dedup"),
	}
}

// Process checks one article against its candidates. Comparisons run in
// priority order and short-circuit on the first match: normalized URL,
// then canonical URL, then fingerprint distance.
func (d *Deduplicator) Process(a *core.Article) Result {
	row, err := d.store.GetByURL(a.URL)
	if err != nil {
		return Result{URL: a.URL, Err: fmt.Errorf("failed to load article: %w", err)}
	}
	if row == nil {
		return Result{URL: a.URL, Skipped: true, SkipReason: "notFound"}
	}
	if row.Status == core.StatusDuplicate {
		return Result{URL: a.URL, Skipped: true, SkipReason: "alreadyDuplicate", IsDuplicate: true, DuplicateOf: row.DuplicateOf}
	}
	if row.Status != core.StatusContentFetched {
		return Result{URL: a.URL, Skipped: true, SkipReason: "wrongStatus"}
	}

	window := time.Duration(d.thresholds.DedupWindowHours) * time.Hour
	candidates, err := d.store.DedupCandidates(row, window, candidateLimit)
	if err != nil {
		return Result{URL: a.URL, Err: fmt.Errorf("candidate scan failed: %w", err)}
	}

	for _, c := range candidates {
		match, ok := d.compare(row, c)
		if !ok {
			continue
		}
		err := d.store.UpdateArticle(a.URL, map[string]any{
			"is_duplicate_of_article_id": c.ID,
			"status":                     core.StatusDuplicate,
		})
		if err != nil {
			return Result{URL: a.URL, Err: err}
		}
		d.log.Debug().Str("url", a.URL).Int64("duplicate_of", c.ID).Str("matched_by", string(match)).Msg("marked duplicate")
		return Result{URL: a.URL, IsDuplicate: true, DuplicateOf: c.ID, MatchedBy: match}
	}
	return Result{URL: a.URL}
}

// ProcessBatch deduplicates sequentially. Order matters: within a batch
// the earlier-inserted row wins as the original.
func (d *Deduplicator) ProcessBatch(articles []*core.Article) []Result {
	results := make([]Result, len(articles))
	for i, a := range articles {
		results[i] = d.Process(a)
	}
	return results
}

func (d *Deduplicator) compare(a, c *core.Article) (Match, bool) {
	if a.NormalizedURL != "" && a.NormalizedURL == c.NormalizedURL {
		return MatchNormalizedURL, true
	}
	if a.CanonicalURL != "" && a.CanonicalURL == c.CanonicalURL {
		return MatchCanonicalURL, true
	}
	if a.ContentFingerprint != "" && c.ContentFingerprint != "" {
		if fingerprint.Hamming(a.ContentFingerprint, c.ContentFingerprint) <= d.thresholds.DedupHammingMax {
			return MatchFingerprint, true
		}
	}
	return "", false
}
