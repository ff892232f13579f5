package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketbrief/internal/core"
	"marketbrief/internal/logger"
	"marketbrief/internal/store"
)

// MacroTerm is the searched_by tag for market-wide topic searches.
const MacroTerm = "MACRO"

// macroTopics are the standing market-wide queries run next to the
// per-holding searches.
var macroTopics = []string{
	"federal reserve interest rates",
	"inflation report",
	"stock market outlook",
}

// IngestOptions configures one discovery run.
type IngestOptions struct {
	Since          time.Time     // only articles published after this
	PerTermLimit   int           // max articles requested per term
	MaxConcurrency int           // provider queries in flight
	Timeout        time.Duration // for the whole run
	IncludeMacro   bool          // also run the standing macro topics
}

// DefaultIngestOptions returns the standing discovery window.
func DefaultIngestOptions() IngestOptions {
	return IngestOptions{
		Since:          time.Now().Add(-24 * time.Hour),
		PerTermLimit:   25,
		MaxConcurrency: 4,
		Timeout:        5 * time.Minute,
		IncludeMacro:   true,
	}
}

// IngestResult aggregates one discovery run.
type IngestResult struct {
	TermsQueried int
	TermsFailed  int
	Fetched      int
	Inserted     int
	Merged       int // URL already known; searched_by extended
	Errors       []error
}

// Ingestor pulls articles from a provider and writes pending rows.
type Ingestor struct {
	store    *store.Store
	provider Provider
	log      zerolog.Logger
}

func NewIngestor(s *store.Store, provider Provider) *Ingestor {
	return &Ingestor{
		store:    s,
		provider: provider,
		log:      logger.With("sources"),
	}
}

// IngestForHoldings queries the provider once per holding, plus the
// standing macro topics, and inserts every new URL as a pending row. A
// URL surfaced by several terms keeps one row with a comma-joined
// searched_by.
func (in *Ingestor) IngestForHoldings(ctx context.Context, holdings []core.Holding, opts IngestOptions) (*IngestResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}

	var terms []string
	for _, h := range holdings {
		if t := core.NormalizeTicker(h.Ticker); t != "" {
			terms = append(terms, t)
		}
	}
	var macroCount int
	if opts.IncludeMacro {
		macroCount = len(macroTopics)
	}

	if len(terms)+macroCount == 0 {
		in.log.Warn().Msg("nothing to ingest: no holdings and macro disabled")
		return &IngestResult{}, nil
	}

	type termFetch struct {
		searchedBy string
		query      string
	}
	var fetches []termFetch
	for _, t := range terms {
		fetches = append(fetches, termFetch{searchedBy: t, query: t})
	}
	if opts.IncludeMacro {
		for _, topic := range macroTopics {
			fetches = append(fetches, termFetch{searchedBy: MacroTerm, query: topic})
		}
	}

	in.log.Info().Int("terms", len(fetches)).Int("concurrency", opts.MaxConcurrency).Msg("starting ingest")

	result := &IngestResult{TermsQueried: len(fetches)}
	sem := make(chan struct{}, opts.MaxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, f := range fetches {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(f termFetch) {
			defer wg.Done()
			defer func() { <-sem }()

			raws, err := in.provider.FetchForTerm(ctx, f.query, opts.Since, opts.PerTermLimit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.TermsFailed++
				result.Errors = append(result.Errors, fmt.Errorf("term %q: %w", f.query, err))
				return
			}
			result.Fetched += len(raws)
			for _, raw := range raws {
				inserted, err := in.ingestOne(raw, f.searchedBy)
				if err != nil {
					result.Errors = append(result.Errors, err)
					continue
				}
				if inserted {
					result.Inserted++
				} else {
					result.Merged++
				}
			}
		}(f)
	}
	wg.Wait()

	in.log.Info().
		Int("fetched", result.Fetched).
		Int("inserted", result.Inserted).
		Int("merged", result.Merged).
		Int("failed_terms", result.TermsFailed).
		Msg("ingest complete")
	return result, nil
}

// ingestOne writes one provider result. Known URLs are merged by
// extending searched_by instead of inserting.
func (in *Ingestor) ingestOne(raw RawArticle, searchedBy string) (bool, error) {
	a := toArticle(raw, searchedBy, in.provider.Name())
	inserted, err := in.store.InsertArticle(a)
	if err != nil {
		return false, fmt.Errorf("failed to ingest %s: %w", raw.URL, err)
	}
	if !inserted {
		if err := in.store.AppendSearchedBy(raw.URL, searchedBy); err != nil {
			return false, fmt.Errorf("failed to merge %s: %w", raw.URL, err)
		}
	}
	return inserted, nil
}
