// Package classify implements Stage 3: global, user-agnostic content
// classification over cleaned article text. A cheap Pass 1 buckets the
// batch before the full Pass 2 schema runs, so low-impact articles never
// pay for the expensive call.
package classify

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

const (
	pass1ExcerptLimit = 800
	pass2ExcerptLimit = 1800

	// lowImpactScore is written for Pass 1 rejects so the row records why
	// it was discarded without a Pass 2 call.
	lowImpactScore = 15.0
)

// Result is the Stage 3 outcome for one article.
type Result struct {
	URL              string
	Skipped          bool
	SkipReason       string
	Status           core.Status
	EventType        string
	ImpactScore      float64
	Sentiment        float64
	SentimentLabel   string
	RiskScore        float64
	OpportunityScore float64
	VolatilityScore  float64
	MatchedTickers   []string
	MatchedSectors   []string
	// Always empty at this stage. Holdings intersection is per-user and
	// belongs to personalization.
	MatchedHoldings []string
	Err             error
}

// Classifier runs Stage 3 over article batches.
type Classifier struct {
	store      *store.Store
	client     llm.Client
	thresholds config.Thresholds
	log        zerolog.Logger
}

// New creates a Stage 3 processor.
func New(s *store.Store, client llm.Client, thresholds config.Thresholds) *Classifier {
	return &Classifier{
		store:      s,
		client:     client,
		thresholds: thresholds,
		log:        logger.With("classify"),
	}
}

// ProcessBatch classifies one batch of articles (at most the Stage 3
// batch size). Pass 1 buckets the batch cheaply; only medium and high
// survivors go through the full Pass 2 schema. A failed batch call falls
// back to per-article classification; a failed individual call records
// the error and leaves the status unchanged.
func (c *Classifier) ProcessBatch(ctx context.Context, articles []*core.Article) ([]Result, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	urls := make([]string, len(articles))
	for i, a := range articles {
		urls[i] = a.URL
	}
	existing, err := c.store.GetByURLs(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing rows: %w", err)
	}

	results := make([]Result, len(articles))
	index := make(map[string]int, len(articles))
	var updates []store.Update
	var eligible []*core.Article

	for i, a := range articles {
		index[a.URL] = i
		row := existing[a.URL]
		switch {
		case row == nil:
			results[i] = Result{URL: a.URL, Skipped: true, SkipReason: "notFound"}
		case row.Classified():
			results[i] = Result{
				URL:         a.URL,
				Skipped:     true,
				SkipReason:  "alreadyClassified",
				Status:      row.Status,
				EventType:   row.EventType,
				ImpactScore: *row.ImpactScore,
			}
		case row.Status != core.StatusContentFetched:
			results[i] = Result{URL: a.URL, Skipped: true, SkipReason: "wrongStatus", Status: row.Status}
		case row.ContentLength < c.thresholds.MinContentLength:
			results[i] = Result{URL: a.URL, Status: core.StatusDiscarded, SkipReason: "contentTooShort"}
			updates = append(updates, store.Update{URL: a.URL, Fields: map[string]any{
				"status":     core.StatusDiscarded,
				"last_error": "content below classification minimum",
			}})
		default:
			eligible = append(eligible, row)
		}
	}

	if len(eligible) > 0 {
		buckets, err := c.pass1(ctx, eligible)
		if err != nil {
			c.log.Warn().Err(err).Int("articles", len(eligible)).Msg("pass 1 batch failed, classifying individually")
			c.classifyIndividually(ctx, eligible, results, index, &updates)
		} else {
			var survivors, missing []*core.Article
			for _, a := range eligible {
				b, ok := buckets[a.URL]
				if !ok {
					// Absent key is an LLM failure, not a low bucket.
					missing = append(missing, a)
					continue
				}
				if !b.MaybeRelevant || strings.EqualFold(b.ImpactBucket, "low") {
					results[index[a.URL]] = Result{
						URL:             a.URL,
						Status:          core.StatusDiscarded,
						EventType:       core.EventOther,
						ImpactScore:     lowImpactScore,
						MatchedHoldings: []string{},
					}
					updates = append(updates, store.Update{URL: a.URL, Fields: map[string]any{
						"impact_score": lowImpactScore,
						"event_type":   core.EventOther,
						"status":       core.StatusDiscarded,
					}})
					continue
				}
				survivors = append(survivors, a)
			}

			if len(missing) > 0 {
				c.log.Warn().Int("articles", len(missing)).Msg("pass 1 response missing articles, classifying individually")
				c.classifyIndividually(ctx, missing, results, index, &updates)
			}

			if len(survivors) > 0 {
				analyses, err := c.pass2(ctx, survivors)
				if err != nil {
					c.log.Warn().Err(err).Int("articles", len(survivors)).Msg("pass 2 batch failed, classifying individually")
					c.classifyIndividually(ctx, survivors, results, index, &updates)
				} else {
					for _, a := range survivors {
						item, ok := analyses[a.URL]
						if !ok {
							c.recordFailure(a, fmt.Errorf("no classification returned for %s", a.URL), results, index, &updates)
							continue
						}
						out := sanitizeAnalysis(a.URL, item, c.thresholds)
						results[index[a.URL]] = out
						updates = append(updates, store.Update{URL: a.URL, Fields: analysisFields(out)})
					}
				}
			}
		}
	}

	if err := c.store.UpdateArticles(updates); err != nil {
		return nil, fmt.Errorf("failed to persist classification batch: %w", err)
	}
	return results, nil
}

// pass1Bucket is the cheap classifier's per-article answer.
type pass1Bucket struct {
	MaybeRelevant bool   `json:"maybe_relevant"`
	ImpactBucket  string `json:"impact_bucket"`
}

// analysis is the full Pass 2 schema, keyed by URL in the response.
type analysis struct {
	EventType        string   `json:"event_type"`
	ImpactScore      float64  `json:"impact_score"`
	Sentiment        float64  `json:"sentiment"`
	SentimentLabel   string   `json:"sentiment_label"`
	RiskScore        float64  `json:"risk_score"`
	OpportunityScore float64  `json:"opportunity_score"`
	VolatilityScore  float64  `json:"volatility_score"`
	MatchedTickers   []string `json:"matched_tickers"`
	MatchedSectors   []string `json:"matched_sectors"`
}

const systemPrompt = `You are a financial news analyst. You classify article content objectively. You never give investment advice and you never address any specific investor.`

func (c *Classifier) pass1(ctx context.Context, articles []*core.Article) (map[string]pass1Bucket, error) {
	var sb strings.Builder
	sb.WriteString("For each article below, decide whether it could matter to an equity investor at all.\n")
	sb.WriteString("Respond with a single JSON object keyed by URL. Each value must have:\n")
	sb.WriteString("  maybe_relevant (boolean), impact_bucket (low|medium|high)\n\n")
	for _, a := range articles {
		sb.WriteString("URL: " + a.URL + "\n")
		sb.WriteString("Title: " + a.Title + "\n")
		sb.WriteString("Text: " + Excerpt(a.CleanText, pass1ExcerptLimit) + "\n\n")
	}

	raw, err := c.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        sb.String(),
		MaxTokens:   batchTokens(len(articles), 150),
		Temperature: 0.1,
		Timeout:     batchTimeout(len(articles)),
	})
	if err != nil {
		return nil, fmt.Errorf("pass 1 completion: %w", err)
	}

	var decoded map[string]pass1Bucket
	if err := llm.DecodeJSON(raw, &decoded); err != nil {
		return nil, fmt.Errorf("pass 1 response: %w", err)
	}
	return decoded, nil
}

func (c *Classifier) pass2(ctx context.Context, articles []*core.Article) (map[string]analysis, error) {
	raw, err := c.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        buildPass2Prompt(articles),
		MaxTokens:   batchTokens(len(articles), 600),
		Temperature: 0.2,
		Timeout:     batchTimeout(len(articles)),
	})
	if err != nil {
		return nil, fmt.Errorf("pass 2 completion: %w", err)
	}

	var decoded map[string]analysis
	if err := llm.DecodeJSON(raw, &decoded); err != nil {
		return nil, fmt.Errorf("pass 2 response: %w", err)
	}
	return decoded, nil
}

func buildPass2Prompt(articles []*core.Article) string {
	var sb strings.Builder
	sb.WriteString("Analyze each article below. Respond with a single JSON object keyed by URL. Each value must have:\n")
	sb.WriteString(`  event_type (earnings|m&a|guidance|macro|regulation|product_tech|industry_trend|other), impact_score (0-100), sentiment (-1 to 1), sentiment_label (negative|neutral|positive), risk_score (0-100), opportunity_score (0-100), volatility_score (0-100), matched_tickers (array), matched_sectors (array)` + "\n\n")
	for _, a := range articles {
		sb.WriteString("URL: " + a.URL + "\n")
		sb.WriteString("Title: " + a.Title + "\n")
		sb.WriteString("Text: " + Excerpt(a.CleanText, pass2ExcerptLimit) + "\n\n")
	}
	return sb.String()
}

// classifyIndividually is the fallback after a failed batch call: one
// Pass 2 call per article, errors contained per row.
func (c *Classifier) classifyIndividually(ctx context.Context, articles []*core.Article, results []Result, index map[string]int, updates *[]store.Update) {
	for _, a := range articles {
		analyses, err := c.pass2(ctx, []*core.Article{a})
		if err != nil {
			c.recordFailure(a, err, results, index, updates)
			continue
		}
		item, ok := analyses[a.URL]
		if !ok {
			c.recordFailure(a, fmt.Errorf("no classification returned for %s", a.URL), results, index, updates)
			continue
		}
		out := sanitizeAnalysis(a.URL, item, c.thresholds)
		results[index[a.URL]] = out
		*updates = append(*updates, store.Update{URL: a.URL, Fields: analysisFields(out)})
	}
}

// recordFailure bumps llm_attempts and keeps the status unchanged so the
// article stays eligible for a later run.
func (c *Classifier) recordFailure(a *core.Article, cause error, results []Result, index map[string]int, updates *[]store.Update) {
	results[index[a.URL]] = Result{URL: a.URL, Status: a.Status, Err: cause}
	*updates = append(*updates, store.Update{URL: a.URL, Fields: map[string]any{
		"llm_attempts": a.LLMAttempts + 1,
		"last_error":   cause.Error(),
	}})
}

// sanitizeAnalysis clamps and defaults one Pass 2 answer, then derives
// the status from the impact threshold.
func sanitizeAnalysis(url string, item analysis, thresholds config.Thresholds) Result {
	eventType := strings.ToLower(strings.TrimSpace(item.EventType))
	if !core.KnownEventTypes[eventType] {
		eventType = core.EventOther
	}

	impact := clamp(item.ImpactScore, 0, 100)
	sentiment := clamp(item.Sentiment, -1, 1)

	label := strings.ToLower(strings.TrimSpace(item.SentimentLabel))
	switch label {
	case "negative", "neutral", "positive":
	default:
		label = labelFor(sentiment)
	}

	tickers := make([]string, 0, len(item.MatchedTickers))
	for _, tk := range item.MatchedTickers {
		if norm := core.NormalizeTicker(tk); norm != "" {
			tickers = append(tickers, norm)
		}
	}
	sectors := make([]string, 0, len(item.MatchedSectors))
	for _, sec := range item.MatchedSectors {
		if sec = strings.TrimSpace(sec); sec != "" {
			sectors = append(sectors, sec)
		}
	}

	status := core.StatusLLMProcessed
	if impact < float64(thresholds.Stage3MinImpact) {
		status = core.StatusDiscarded
	}

	return Result{
		URL:              url,
		Status:           status,
		EventType:        eventType,
		ImpactScore:      impact,
		Sentiment:        sentiment,
		SentimentLabel:   label,
		RiskScore:        clamp(item.RiskScore, 0, 100),
		OpportunityScore: clamp(item.OpportunityScore, 0, 100),
		VolatilityScore:  clamp(item.VolatilityScore, 0, 100),
		MatchedTickers:   tickers,
		MatchedSectors:   sectors,
		MatchedHoldings:  []string{},
	}
}

func analysisFields(r Result) map[string]any {
	return map[string]any{
		"event_type":        r.EventType,
		"impact_score":      r.ImpactScore,
		"sentiment":         r.Sentiment,
		"sentiment_label":   r.SentimentLabel,
		"risk_score":        r.RiskScore,
		"opportunity_score": r.OpportunityScore,
		"volatility_score":  r.VolatilityScore,
		"matched_tickers":   r.MatchedTickers,
		"matched_sectors":   r.MatchedSectors,
		"status":            r.Status,
		"last_error":        "",
	}
}

func labelFor(sentiment float64) string {
	switch {
	case sentiment < -0.2:
		return "negative"
	case sentiment > 0.2:
		return "positive"
	default:
		return "neutral"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// batchTimeout scales with batch size: 45s + 2s per article, clamped to
// [45s, 120s].
func batchTimeout(n int) time.Duration {
	d := 45*time.Second + time.Duration(n)*2*time.Second
	if d > 120*time.Second {
		d = 120 * time.Second
	}
	return d
}

// batchTokens budgets perArticle tokens per article up to 6000.
func batchTokens(n, perArticle int) int32 {
	tokens := int32(perArticle * n)
	if tokens > 6000 {
		tokens = 6000
	}
	return tokens
}
