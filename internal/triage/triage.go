// Package triage implements Stage 1: LLM-assisted title relevance,
// event-type and ticker extraction, preceded by cheap hard filters that
// discard generic content before any LLM spend.
package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/llm"
	"marketbrief/internal/logger"
	"marketbrief/internal/store"
)

// fallbackReason is the deterministic reason string written when the LLM
// gives none or the per-article fallback runs.
const fallbackReason = "headline triage"

// Result is the Stage 1 outcome for one article.
type Result struct {
	URL             string
	Skipped         bool
	SkipReason      string
	Status          core.Status
	TitleRelevance  int
	TitleEventType  string
	TickerMatches   []string
	SectorMatches   []string
	ShouldFetchFull bool
	Reason          string
}

// Triage runs Stage 1 over article batches.
type Triage struct {
	store      *store.Store
	client     llm.Client
	thresholds config.Thresholds
	log        zerolog.Logger
}

// New creates a Stage 1 processor.
func New(s *store.Store, client llm.Client, thresholds config.Thresholds) *Triage {
	return &Triage{
		store:      s,
		client:     client,
		thresholds: thresholds,
		log:        logger.With("triage"),
	}
}

// ProcessBatch triages one batch of articles (at most the Stage 1 batch
// size). Already-triaged rows are skipped without an LLM call; hard-filter
// hits are discarded; survivors go to the LLM in a single batched call,
// falling back to per-article defaults on persistent failure. All writes
// land in one transaction.
func (t *Triage) ProcessBatch(ctx context.Context, articles []*core.Article, holdings []core.Holding) ([]Result, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	urls := make([]string, len(articles))
	for i, a := range articles {
		urls[i] = a.URL
	}
	existing, err := t.store.GetByURLs(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing rows: %w", err)
	}

	results := make([]Result, len(articles))
	var updates []store.Update
	var survivors []*core.Article

	for i, a := range articles {
		row := existing[a.URL]
		if row == nil {
			results[i] = Result{URL: a.URL, Skipped: true, SkipReason: "notFound"}
			continue
		}
		if row.Triaged() {
			results[i] = Result{
				URL:             a.URL,
				Skipped:         true,
				SkipReason:      "alreadyTriaged",
				Status:          row.Status,
				TitleRelevance:  *row.TitleRelevance,
				TitleEventType:  row.TitleEventType,
				ShouldFetchFull: row.ShouldFetchFull,
			}
			continue
		}

		// Context fetch: searched_by may only exist on the stored row.
		if a.SearchedBy == "" {
			a.SearchedBy = row.SearchedBy
		}

		if name := matchHardFilter(a.Title); name != "" {
			results[i] = discard(a.URL, name)
			updates = append(updates, discardUpdate(a.URL, name))
			continue
		}
		if bad, reason := failsMinQuality(a.Title, a.SourceName); bad {
			results[i] = discard(a.URL, reason)
			updates = append(updates, discardUpdate(a.URL, reason))
			continue
		}

		if lacksHoldingMention(a, holdings) {
			a.NoHoldingMention = true
		}

		survivors = append(survivors, a)
	}

	if len(survivors) > 0 {
		triaged, err := t.triageWithLLM(ctx, survivors)
		if err != nil {
			t.log.Warn().Err(err).Int("articles", len(survivors)).Msg("batch triage failed, using per-article fallback")
			triaged = fallbackTriage(survivors)
		}

		for i, a := range articles {
			out, ok := triaged[a.URL]
			if !ok {
				continue
			}
			results[i] = out

			fields := map[string]any{
				"title_relevance":      out.TitleRelevance,
				"title_event_type":     out.TitleEventType,
				"title_reason_short":   out.Reason,
				"title_ticker_matches": out.TickerMatches,
				"title_sector_matches": out.SectorMatches,
				"should_fetch_full":    out.ShouldFetchFull,
				"status":               out.Status,
			}
			if a.NoHoldingMention {
				fields["no_holding_mention"] = true
			}
			updates = append(updates, store.Update{URL: a.URL, Fields: fields})
		}
	}

	if err := t.store.UpdateArticles(updates); err != nil {
		return nil, fmt.Errorf("failed to persist triage batch: %w", err)
	}
	return results, nil
}

// llmArticle is the per-article response schema, keyed by URL in the
// response object.
type llmArticle struct {
	TitleRelevance  int      `json:"title_relevance"`
	TitleEventType  string   `json:"title_event_type"`
	TitleReason     string   `json:"title_reason_short"`
	TickerMatches   []string `json:"title_ticker_matches"`
	SectorMatches   []string `json:"title_sector_matches"`
	ShouldFetchFull bool     `json:"should_fetch_full"`
}

const systemPrompt = `You are a financial news triage assistant. You judge only headlines and short descriptions. You never give investment advice.`

func buildPrompt(articles []*core.Article) string {
	var sb strings.Builder
	sb.WriteString("For each article below, rate headline relevance for an investor tracking the named ticker or topic.\n")
	sb.WriteString("Respond with a single JSON object keyed by URL. Each value must have:\n")
	sb.WriteString(`  title_relevance (0-3), title_event_type (earnings|m&a|guidance|macro|regulation|product_tech|industry_trend|other), title_reason_short (short string), title_ticker_matches (array of tickers), title_sector_matches (array of sectors), should_fetch_full (boolean)` + "\n\n")

	for _, a := range articles {
		sb.WriteString("URL: " + a.URL + "\n")
		sb.WriteString("Searched for: " + a.SearchedBy + "\n")
		sb.WriteString("Title: " + a.Title + "\n")
		if a.Description != "" {
			sb.WriteString("Description: " + a.Description + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// batchTimeout scales with batch size: 45s + 2s per article, clamped to
// [45s, 120s].
func batchTimeout(n int) time.Duration {
	d := 45*time.Second + time.Duration(n)*2*time.Second
	if d < 45*time.Second {
		d = 45 * time.Second
	}
	if d > 120*time.Second {
		d = 120 * time.Second
	}
	return d
}

// batchTokens budgets 400 tokens per article up to 6000.
func batchTokens(n int) int32 {
	tokens := int32(400 * n)
	if tokens > 6000 {
		tokens = 6000
	}
	return tokens
}

func (t *Triage) triageWithLLM(ctx context.Context, articles []*core.Article) (map[string]Result, error) {
	raw, err := t.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        buildPrompt(articles),
		MaxTokens:   batchTokens(len(articles)),
		Temperature: 0.2,
		Timeout:     batchTimeout(len(articles)),
	})
	if err != nil {
		return nil, fmt.Errorf("triage completion: %w", err)
	}

	var decoded map[string]llmArticle
	if err := llm.DecodeJSON(raw, &decoded); err != nil {
		return nil, fmt.Errorf("triage response: %w", err)
	}

	out := make(map[string]Result, len(articles))
	for _, a := range articles {
		item, ok := decoded[a.URL]
		if !ok {
			out[a.URL] = fallbackResult(a.URL)
			continue
		}
		out[a.URL] = sanitizeResult(a.URL, item)
	}
	return out, nil
}

// sanitizeResult clamps and defaults one LLM answer into the closed sets.
func sanitizeResult(url string, item llmArticle) Result {
	rel := item.TitleRelevance
	if rel < 0 {
		rel = 0
	}
	if rel > 3 {
		rel = 3
	}

	eventType := strings.ToLower(strings.TrimSpace(item.TitleEventType))
	if !core.KnownEventTypes[eventType] {
		eventType = core.EventOther
	}

	reason := strings.TrimSpace(item.TitleReason)
	if reason == "" {
		reason = fallbackReason
	}

	status := core.StatusTitleFiltered
	if rel == 0 {
		status = core.StatusDiscarded
	}

	tickers := make([]string, 0, len(item.TickerMatches))
	for _, tk := range item.TickerMatches {
		if norm := core.NormalizeTicker(tk); norm != "" {
			tickers = append(tickers, norm)
		}
	}
	sectors := make([]string, 0, len(item.SectorMatches))
	for _, sec := range item.SectorMatches {
		if sec = strings.TrimSpace(sec); sec != "" {
			sectors = append(sectors, sec)
		}
	}

	return Result{
		URL:             url,
		Status:          status,
		TitleRelevance:  rel,
		TitleEventType:  eventType,
		TickerMatches:   tickers,
		SectorMatches:   sectors,
		ShouldFetchFull: item.ShouldFetchFull && rel > 0,
		Reason:          reason,
	}
}

// fallbackTriage is the per-article individual mode after a failed batch
// call: moderate relevance and a full fetch so nothing is lost.
func fallbackTriage(articles []*core.Article) map[string]Result {
	out := make(map[string]Result, len(articles))
	for _, a := range articles {
		out[a.URL] = fallbackResult(a.URL)
	}
	return out
}

func fallbackResult(url string) Result {
	return Result{
		URL:             url,
		Status:          core.StatusTitleFiltered,
		TitleRelevance:  2,
		TitleEventType:  core.EventOther,
		ShouldFetchFull: true,
		Reason:          fallbackReason,
	}
}

func discard(url, reason string) Result {
	return Result{URL: url, Status: core.StatusDiscarded, TitleRelevance: 0, Reason: reason}
}

func discardUpdate(url, reason string) store.Update {
	return store.Update{URL: url, Fields: map[string]any{
		"status":             core.StatusDiscarded,
		"title_relevance":    0,
		"should_fetch_full":  false,
		"title_reason_short": reason,
	}}
}
