// Package fetch implements Stage 2: HTTP retrieval of the full article
// body, HTML text extraction, quality gating, and the derived fields the
// deduplicator keys on.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/fingerprint"
	"marketbrief/internal/logger"
	"marketbrief/internal/store"
	"marketbrief/internal/urlutil"
)

// maxBodyBytes bounds how much HTML is read per article.
const maxBodyBytes = 2 << 20

// truncatedTextLimit is how much of a rejected body is kept for triage
// of quality failures.
const truncatedTextLimit = 1000

// Result is the Stage 2 outcome for one article.
type Result struct {
	URL        string
	Skipped    bool
	SkipReason string
	Status     core.Status
	Err        error
}

// Fetcher runs Stage 2.
type Fetcher struct {
	store      *store.Store
	client     *http.Client
	resolver   RedirectResolver
	userAgent  string
	thresholds config.Thresholds
	log        zerolog.Logger
}

// New creates a Stage 2 fetcher. resolver may be nil when Google News
// redirect decoding is unavailable; such URLs are then fetched verbatim.
func New(s *store.Store, cfg config.Fetch, thresholds config.Thresholds, resolver RedirectResolver) *Fetcher {
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 3
	}
	return &Fetcher{
		store: s,
		client: &http.Client{
			Timeout: cfg.TimeoutDuration(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		resolver:   resolver,
		userAgent:  cfg.UserAgent,
		thresholds: thresholds,
		log:        logger.With("fetch"),
	}
}

// Process fetches and extracts one article.
func (f *Fetcher) Process(ctx context.Context, a *core.Article) Result {
	row, err := f.store.GetByURL(a.URL)
	if err != nil {
		return Result{URL: a.URL, Err: fmt.Errorf("failed to load article: %w", err)}
	}
	if row == nil {
		return Result{URL: a.URL, Skipped: true, SkipReason: "notFound"}
	}
	if row.Status.Terminal() {
		return Result{URL: a.URL, Skipped: true, SkipReason: "wrongStatus", Status: row.Status}
	}
	if row.Status == core.StatusContentFetched || row.ContentLength > 0 {
		return Result{URL: a.URL, Skipped: true, SkipReason: "alreadyFetched", Status: row.Status}
	}
	if !row.ShouldFetchFull {
		return Result{URL: a.URL, Skipped: true, SkipReason: "fetchNotRequested", Status: row.Status}
	}
	if row.FetchAttempts >= f.thresholds.MaxFetchAttempts {
		_ = f.store.UpdateArticle(a.URL, map[string]any{"status": core.StatusDiscarded})
		return Result{URL: a.URL, Status: core.StatusDiscarded, SkipReason: "attemptsExhausted"}
	}

	attempts, err := f.store.IncrementFetchAttempts(a.URL)
	if err != nil {
		return Result{URL: a.URL, Err: err}
	}

	fetchURL, err := f.resolveFetchURL(ctx, row)
	if err != nil {
		return f.recordFailure(a.URL, attempts, fmt.Errorf("redirect resolution: %w", err))
	}

	html, err := f.get(ctx, fetchURL)
	if err != nil {
		return f.recordFailure(a.URL, attempts, err)
	}

	text := ExtractText(html)
	if len(text) < f.thresholds.MinFetchedLength || IsBoilerplate(text) {
		truncated := text
		if len(truncated) > truncatedTextLimit {
			truncated = truncated[:truncatedTextLimit]
		}
		err := f.store.UpdateArticle(a.URL, map[string]any{
			"clean_text":     truncated,
			"content_length": len(text),
			"status":         core.StatusDiscarded,
			"last_error":     "content quality gate",
		})
		if err != nil {
			return Result{URL: a.URL, Err: err}
		}
		return Result{URL: a.URL, Status: core.StatusDiscarded}
	}

	fields := map[string]any{
		"final_url":           fetchURL,
		"canonical_url":       urlutil.CanonicalURL(html),
		"clean_text":          text,
		"content_length":      len(text),
		"content_fingerprint": fingerprint.SimHash(text),
		"normalized_url":      urlutil.Normalize(a.URL),
		"normalized_domain":   urlutil.NormalizedDomain(a.URL),
		"title_hash_bucket":   urlutil.TitleHashBucket(row.Title),
		"content_fetched_at":  time.Now().UTC(),
		"status":              core.StatusContentFetched,
		"last_error":          "",
	}
	if err := f.store.UpdateArticle(a.URL, fields); err != nil {
		return Result{URL: a.URL, Err: err}
	}
	return Result{URL: a.URL, Status: core.StatusContentFetched}
}

// ProcessBatch fetches a batch with a bounded worker pool. Results mirror
// the input order.
func (f *Fetcher) ProcessBatch(ctx context.Context, articles []*core.Article, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = 8
	}

	results := make([]Result, len(articles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, a := range articles {
		g.Go(func() error {
			results[i] = f.Process(gctx, a)
			// Errors are contained at the article boundary.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// resolveFetchURL prefers a previously resolved final_url, then decodes
// Google News redirects, then falls back to the origin URL.
func (f *Fetcher) resolveFetchURL(ctx context.Context, row *core.Article) (string, error) {
	if row.FinalURL != "" {
		return row.FinalURL, nil
	}
	if f.resolver != nil && IsGoogleNewsURL(row.URL) {
		final, err := f.resolver.Resolve(ctx, row.URL)
		if err != nil {
			return "", err
		}
		_ = f.store.UpdateArticle(row.URL, map[string]any{"final_url": final})
		return final, nil
	}
	return row.URL, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body from %s: %w", url, err)
	}
	return string(body), nil
}

// recordFailure persists a fetch error: below the attempt cap the row
// stays retryable as fetch_failed, at the cap it is discarded.
func (f *Fetcher) recordFailure(url string, attempts int, cause error) Result {
	status := core.StatusFetchFailed
	if attempts >= f.thresholds.MaxFetchAttempts {
		status = core.StatusDiscarded
	}
	err := f.store.UpdateArticle(url, map[string]any{
		"last_error": cause.Error(),
		"status":     status,
	})
	if err != nil {
		return Result{URL: url, Err: err}
	}
	f.log.Debug().Str("url", url).Int("attempts", attempts).Err(cause).Msg("fetch failed")
	return Result{URL: url, Status: status, Err: cause}
}
