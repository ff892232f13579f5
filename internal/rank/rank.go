// Package rank implements Stage 5: clustering near-duplicate personalized
// articles, electing a primary per cluster, computing the final rank score
// and gating feed visibility. It runs over the store as a batch step, not
// per article.
package rank

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/guardrail"
	"marketbrief/internal/logger"
	"marketbrief/internal/store"
)

const (
	// candidateLimit bounds one ranking run.
	candidateLimit = 500

	// jaccardThreshold is the title word overlap above which two articles
	// cluster even without a ticker overlap.
	jaccardThreshold = 0.7
)

// Summary reports one ranking run.
type Summary struct {
	Candidates int
	Clusters   int
	Shown      int
	Degraded   bool // cluster formation failed, singleton fallback used
}

// Ranker runs Stage 5.
type Ranker struct {
	store      *store.Store
	thresholds config.Thresholds
	log        zerolog.Logger
}

func New(s *store.Store, thresholds config.Thresholds) *Ranker {
	return &Ranker{
		store:      s,
		thresholds: thresholds,
		log:        logger.With("rank"),
	}
}

// Rank clusters all unranked personalized rows and persists the Stage 5
// outputs. cutoff overrides the configured show threshold when positive.
func (r *Ranker) Rank(cutoff int) (Summary, error) {
	if cutoff <= 0 {
		cutoff = r.thresholds.RankShowCutoff
	}

	rows, err := r.store.RankCandidates(candidateLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load rank candidates: %w", err)
	}
	if len(rows) == 0 {
		return Summary{}, nil
	}

	summary := Summary{Candidates: len(rows)}
	clusters, degraded := safeCluster(rows)
	if degraded {
		r.log.Warn().Int("articles", len(rows)).Msg("cluster formation failed, ranking as singletons")
		summary.Degraded = true
	}
	summary.Clusters = len(clusters)

	now := time.Now().UTC()
	var updates []store.Update
	for _, members := range clusters {
		primary := pickPrimary(members)
		clusterID := clusterIDFor(primary.Title)
		final := finalScore(primary)
		shown := final >= float64(cutoff)
		if shown {
			summary.Shown++
		}

		signal := guardrail.Sanitize(signalFor(primary, final))

		for _, m := range members {
			isPrimary := m.URL == primary.URL
			fields := map[string]any{
				"cluster_id":            clusterID,
				"is_primary_in_cluster": isPrimary,
				"final_rank_score":      final,
				"importance_score":      signal.ImportanceScore,
				"status":                core.StatusRanked,
			}
			if isPrimary {
				fields["verdict"] = signal.Verdict
				fields["why_json"] = signal.Why
				fields["action"] = signal.Action
				fields["horizon"] = signal.Horizon
				fields["opportunity_type"] = signal.OpportunityType
				fields["opportunity_note"] = signal.OpportunityNote
				fields["confidence"] = signal.Confidence
				fields["shown_to_user"] = shown
				if shown {
					fields["shown_timestamp"] = now
				}
			}
			updates = append(updates, store.Update{URL: m.URL, Fields: fields})
		}
	}

	if err := r.store.UpdateArticles(updates); err != nil {
		return Summary{}, fmt.Errorf("failed to persist ranking: %w", err)
	}
	return summary, nil
}

// safeCluster confines a clustering panic to a singleton fallback.
func safeCluster(rows []*core.Article) (clusters [][]*core.Article, degraded bool) {
	defer func() {
		if recover() != nil {
			clusters = make([][]*core.Article, len(rows))
			for i, a := range rows {
				clusters[i] = []*core.Article{a}
			}
			degraded = true
		}
	}()
	return cluster(rows), false
}

// cluster partitions by (event_type, lead ticker) and greedily groups
// similar articles within each partition. Input order is preserved, so
// candidate ordering by score carries into the cluster lists.
func cluster(rows []*core.Article) [][]*core.Article {
	type partitionKey struct {
		event  string
		ticker string
	}
	partitions := make(map[partitionKey][]*core.Article)
	var order []partitionKey
	for _, a := range rows {
		key := partitionKey{event: a.EventType, ticker: leadTicker(a)}
		if _, seen := partitions[key]; !seen {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], a)
	}

	var clusters [][]*core.Article
	for _, key := range order {
		members := partitions[key]
		var local [][]*core.Article
		for _, a := range members {
			placed := false
			for i, c := range local {
				if similar(a, c[0]) {
					local[i] = append(c, a)
					placed = true
					break
				}
			}
			if !placed {
				local = append(local, []*core.Article{a})
			}
		}
		clusters = append(clusters, local...)
	}
	return clusters
}

// similar reports whether two articles describe the same story: same
// event with a ticker overlap, or strongly overlapping titles.
func similar(a, b *core.Article) bool {
	if a.EventType == b.EventType && tickersOverlap(a.MatchedTickers, b.MatchedTickers) {
		return true
	}
	return titleJaccard(a.Title, b.Title) > jaccardThreshold
}

func tickersOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if set[t] {
			return true
		}
	}
	return false
}

// titleJaccard computes word-set overlap over lower-cased words longer
// than 3 characters.
func titleJaccard(a, b string) float64 {
	wa := titleWords(a)
	wb := titleWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	intersection := 0
	for w := range wa {
		if wb[w] {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	return float64(intersection) / float64(union)
}

func titleWords(title string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) > 3 {
			words[w] = true
		}
	}
	return words
}

func leadTicker(a *core.Article) string {
	if len(a.MatchedTickers) > 0 {
		return a.MatchedTickers[0]
	}
	return "none"
}

// pickPrimary returns the member with the highest profile-adjusted score.
func pickPrimary(members []*core.Article) *core.Article {
	primary := members[0]
	for _, m := range members[1:] {
		if adjusted(m) > adjusted(primary) {
			primary = m
		}
	}
	return primary
}

func adjusted(a *core.Article) float64 {
	if a.ProfileAdjustedScore == nil {
		return 0
	}
	return *a.ProfileAdjustedScore
}

// finalScore blends the primary's personalization and impact scores,
// rounded and clamped to [0,100].
func finalScore(primary *core.Article) float64 {
	impact := 0.0
	if primary.ImpactScore != nil {
		impact = *primary.ImpactScore
	}
	score := math.Round(0.6*adjusted(primary) + 0.4*impact)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// clusterIDFor derives a stable cluster id from the primary title:
// lower-cased, non-alphanumerics stripped, first 50 chars, md5 prefix.
func clusterIDFor(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	key := sb.String()
	if len(key) > 50 {
		key = key[:50]
	}
	sum := md5.Sum([]byte(key))
	return "cluster_" + hex.EncodeToString(sum[:])[:8]
}

// signalFor assembles the interpretation bundle for a cluster primary.
// Rows carrying no interpretation yet get the neutral defaults; the
// guardrail enforces the closed vocabularies either way.
func signalFor(primary *core.Article, final float64) core.Signal {
	verdict := primary.Verdict
	if verdict == "" {
		verdict = "aware"
	}
	action := primary.Action
	if action == "" {
		action = guardrail.ActionDoNothing
	}
	why := primary.Why
	if len(why) == 0 {
		why = []string{guardrail.NeutralWhy}
	}
	opportunityType := primary.OpportunityType
	if opportunityType == "" {
		opportunityType = "none"
	}
	confidence := primary.Confidence
	if confidence == 0 {
		confidence = 50
	}
	return core.Signal{
		Title:           primary.Title,
		Verdict:         verdict,
		Why:             why,
		Action:          action,
		Horizon:         primary.Horizon,
		OpportunityType: opportunityType,
		OpportunityNote: primary.OpportunityNote,
		Confidence:      confidence,
		ImportanceScore: final,
	}
}
