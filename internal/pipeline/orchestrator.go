package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketbrief/internal/classify"
	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/costgate"
	"marketbrief/internal/dedup"
	"marketbrief/internal/fetch"
	"marketbrief/internal/llm"
	"marketbrief/internal/logger"
	"marketbrief/internal/personalize"
	"marketbrief/internal/rank"
	"marketbrief/internal/store"
	"marketbrief/internal/triage"
)

// BatchReport aggregates one orchestrated run, stage by stage.
type BatchReport struct {
	RunID  string
	Stages []StageStats
}

// Processed sums articles fully processed by the named stage.
func (r *BatchReport) Processed(stage string) int {
	for _, s := range r.Stages {
		if s.Name == stage {
			return s.Processed
		}
	}
	return 0
}

// Orchestrator runs Stages 1 through 4 over article batches. Stage 5 is
// a separate store-wide step, see ProcessBatchRanking.
type Orchestrator struct {
	store        *store.Store
	triage       *triage.Triage
	gate         *costgate.Gate
	fetcher      *fetch.Fetcher
	dedup        *dedup.Deduplicator
	classifier   *classify.Classifier
	personalizer *personalize.Personalizer
	ranker       *rank.Ranker

	thresholds       config.Thresholds
	delay            time.Duration
	fetchConcurrency int
	topN             int
	log              zerolog.Logger
}

// New wires the full pipeline. resolver may be nil to fetch aggregator
// URLs verbatim.
func New(s *store.Store, client llm.Client, cfg *config.Config, resolver fetch.RedirectResolver) *Orchestrator {
	t := cfg.Thresholds
	return &Orchestrator{
		store:            s,
		triage:           triage.New(s, client, t),
		gate:             costgate.New(s, t),
		fetcher:          fetch.New(s, cfg.Fetch, t, resolver),
		dedup:            dedup.New(s, t),
		classifier:       classify.New(s, client, t),
		personalizer:     personalize.New(s, t),
		ranker:           rank.New(s, t),
		thresholds:       t,
		delay:            cfg.Pipeline.BatchDelay(),
		fetchConcurrency: cfg.Fetch.Concurrency,
		topN:             cfg.Pipeline.IncrementalTopN,
		log:              logger.With("pipeline"),
	}
}

// ProcessBatch runs Stages 1, 1.5, 2, dedup, 3 and 4 sequentially over
// one batch for a (holdings, profile) context. Every stage re-checks its
// own prerequisites against the store, so rows filtered earlier are
// skipped, not reprocessed.
func (o *Orchestrator) ProcessBatch(ctx context.Context, articles []*core.Article, holdings []core.Holding, profile core.Profile) (*BatchReport, error) {
	if len(articles) == 0 {
		return &BatchReport{}, nil
	}
	runID := uuid.NewString()
	log := o.log.With().Str("run_id", runID).Logger()

	stages := []*StageProcessor{
		{
			Name: "title_triage", Number: "1",
			BatchSize: o.thresholds.Stage1BatchSize, Delay: o.delay,
			Run: func(ctx context.Context, batch []*core.Article) ([]Outcome, error) {
				results, err := o.triage.ProcessBatch(ctx, batch, holdings)
				if err != nil {
					return nil, err
				}
				out := make([]Outcome, len(results))
				for i, r := range results {
					out[i] = Outcome{URL: r.URL, Skipped: r.Skipped, SkipReason: r.SkipReason, Status: r.Status}
				}
				return out, nil
			},
		},
		{
			Name: "cost_gate", Number: "1.5",
			Run: func(_ context.Context, batch []*core.Article) ([]Outcome, error) {
				out := make([]Outcome, len(batch))
				for i, a := range batch {
					r, err := o.gate.Process(a)
					if err != nil {
						out[i] = Outcome{URL: a.URL, Err: err}
						continue
					}
					skipped := r.Skipped || !r.Proceed
					reason := r.SkipReason
					if !r.Skipped && !r.Proceed {
						reason = "belowGate"
					}
					out[i] = Outcome{URL: r.URL, Skipped: skipped, SkipReason: reason, Status: r.Status}
				}
				return out, nil
			},
		},
		{
			Name: "content_fetch", Number: "2",
			Run: func(ctx context.Context, batch []*core.Article) ([]Outcome, error) {
				results := o.fetcher.ProcessBatch(ctx, batch, o.fetchConcurrency)
				out := make([]Outcome, len(results))
				for i, r := range results {
					out[i] = Outcome{URL: r.URL, Skipped: r.Skipped, SkipReason: r.SkipReason, Status: r.Status, Err: r.Err}
				}
				return out, nil
			},
		},
		{
			Name: "dedup", Number: "2.5",
			Run: func(_ context.Context, batch []*core.Article) ([]Outcome, error) {
				results := o.dedup.ProcessBatch(batch)
				out := make([]Outcome, len(results))
				for i, r := range results {
					status := core.Status("")
					if r.IsDuplicate {
						status = core.StatusDuplicate
					}
					out[i] = Outcome{URL: r.URL, Skipped: r.Skipped, SkipReason: r.SkipReason, Status: status, Err: r.Err}
				}
				return out, nil
			},
		},
		{
			Name: "classification", Number: "3",
			BatchSize: o.thresholds.Stage3BatchSize, Delay: o.delay,
			Run: func(ctx context.Context, batch []*core.Article) ([]Outcome, error) {
				results, err := o.classifier.ProcessBatch(ctx, batch)
				if err != nil {
					return nil, err
				}
				out := make([]Outcome, len(results))
				for i, r := range results {
					out[i] = Outcome{URL: r.URL, Skipped: r.Skipped, SkipReason: r.SkipReason, Status: r.Status, Err: r.Err}
				}
				return out, nil
			},
		},
		{
			Name: "personalization", Number: "4",
			Run: func(_ context.Context, batch []*core.Article) ([]Outcome, error) {
				results, err := o.personalizer.ProcessBatch(batch, holdings, profile)
				if err != nil {
					return nil, err
				}
				out := make([]Outcome, len(results))
				for i, r := range results {
					out[i] = Outcome{URL: r.URL, Skipped: r.Skipped, SkipReason: r.SkipReason, Status: r.Status, Err: r.Err}
				}
				return out, nil
			},
		},
	}

	report := &BatchReport{RunID: runID}
	for _, stage := range stages {
		stats := stage.Execute(ctx, articles)
		report.Stages = append(report.Stages, stats)
		log.Info().
			Str("stage", stats.Name).
			Int("total", stats.Total).
			Int("processed", stats.Processed).
			Int("errors", stats.Errors).
			Msg("stage complete")
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
	return report, nil
}

// ProcessBatchIncremental processes the most promising topN articles
// synchronously and the remainder in the background. The returned channel
// delivers the background report and is closed afterwards; it is nil when
// the batch was small enough to degrade to a plain ProcessBatch.
func (o *Orchestrator) ProcessBatchIncremental(ctx context.Context, articles []*core.Article, holdings []core.Holding, profile core.Profile, topN int) (*BatchReport, <-chan *BatchReport, error) {
	if topN <= 0 {
		topN = o.topN
	}
	if len(articles) <= topN {
		report, err := o.ProcessBatch(ctx, articles, holdings, profile)
		return report, nil, err
	}

	ordered, err := o.byPromise(articles)
	if err != nil {
		return nil, nil, err
	}
	top, rest := ordered[:topN], ordered[topN:]

	report, err := o.ProcessBatch(ctx, top, holdings, profile)
	if err != nil {
		return report, nil, err
	}

	ch := make(chan *BatchReport, 1)
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				o.log.Error().Interface("panic", r).Msg("background batch panicked")
			}
		}()
		restReport, err := o.ProcessBatch(ctx, rest, holdings, profile)
		if err != nil {
			o.log.Warn().Err(err).Int("articles", len(rest)).Msg("background batch failed")
		}
		if restReport != nil {
			ch <- restReport
		}
	}()
	return report, ch, nil
}

// ProcessBatchRanking runs Stage 5 over the store. It is not part of the
// per-article orchestration.
func (o *Orchestrator) ProcessBatchRanking(cutoff int) (rank.Summary, error) {
	return o.ranker.Rank(cutoff)
}

// byPromise orders articles by stored title relevance, newest first
// within a relevance band. Untriaged rows sort last.
func (o *Orchestrator) byPromise(articles []*core.Article) ([]*core.Article, error) {
	urls := make([]string, len(articles))
	for i, a := range articles {
		urls[i] = a.URL
	}
	existing, err := o.store.GetByURLs(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows for ordering: %w", err)
	}

	relevance := func(a *core.Article) int {
		row := existing[a.URL]
		if row == nil || row.TitleRelevance == nil {
			if a.TitleRelevance != nil {
				return *a.TitleRelevance
			}
			return -1
		}
		return *row.TitleRelevance
	}
	published := func(a *core.Article) time.Time {
		if row := existing[a.URL]; row != nil {
			return row.PublishedAt
		}
		return a.PublishedAt
	}

	ordered := make([]*core.Article, len(articles))
	copy(ordered, articles)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := relevance(ordered[i]), relevance(ordered[j])
		if ri != rj {
			return ri > rj
		}
		return published(ordered[i]).After(published(ordered[j]))
	})
	return ordered, nil
}
