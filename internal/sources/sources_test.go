package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/store"
)

// fakeProvider returns canned results per term.
type fakeProvider struct {
	mu      sync.Mutex
	byTerm  map[string][]RawArticle
	queried []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchForTerm(_ context.Context, term string, _ time.Time, _ int) ([]RawArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, term)
	return f.byTerm[term], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func raw(url, title string) RawArticle {
	return RawArticle{
		URL:         url,
		Title:       title,
		SourceName:  "Reuters",
		PublishedAt: time.Now().UTC(),
	}
}

func TestIngestForHoldings_InsertsPendingRows(t *testing.T) {
	s := newTestStore(t)
	provider := &fakeProvider{byTerm: map[string][]RawArticle{
		"AAPL": {raw("https://x/a", "Apple story"), raw("https://x/b", "Second Apple story")},
		"MSFT": {raw("https://x/c", "Microsoft story")},
	}}
	in := NewIngestor(s, provider)

	opts := DefaultIngestOptions()
	opts.IncludeMacro = false
	result, err := in.IngestForHoldings(context.Background(), []core.Holding{
		{Ticker: "aapl"}, {Ticker: "MSFT"},
	}, opts)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.Inserted != 3 || result.Merged != 0 || result.Fetched != 3 {
		t.Errorf("result = %+v", result)
	}

	row, _ := s.GetByURL("https://x/a")
	if row == nil || row.Status != core.StatusPending {
		t.Fatalf("row = %+v, want pending", row)
	}
	if row.SearchedBy != "AAPL" || row.FeedSource != "fake" {
		t.Errorf("searched_by = %q feed_source = %q", row.SearchedBy, row.FeedSource)
	}
}

func TestIngestForHoldings_MergesSharedURLs(t *testing.T) {
	s := newTestStore(t)
	shared := raw("https://x/shared", "Apple and Microsoft team up")
	provider := &fakeProvider{byTerm: map[string][]RawArticle{
		"AAPL": {shared},
		"MSFT": {shared},
	}}
	in := NewIngestor(s, provider)

	opts := DefaultIngestOptions()
	opts.IncludeMacro = false
	opts.MaxConcurrency = 1 // deterministic term order
	result, err := in.IngestForHoldings(context.Background(), []core.Holding{
		{Ticker: "AAPL"}, {Ticker: "MSFT"},
	}, opts)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.Inserted != 1 || result.Merged != 1 {
		t.Errorf("result = %+v", result)
	}

	row, _ := s.GetByURL("https://x/shared")
	if row.SearchedBy != "AAPL,MSFT" {
		t.Errorf("searched_by = %q, want comma-joined", row.SearchedBy)
	}
}

func TestIngestForHoldings_MacroTopicsTagged(t *testing.T) {
	s := newTestStore(t)
	provider := &fakeProvider{byTerm: map[string][]RawArticle{
		"federal reserve interest rates": {raw("https://x/fed", "Fed holds steady")},
	}}
	in := NewIngestor(s, provider)

	opts := DefaultIngestOptions()
	result, err := in.IngestForHoldings(context.Background(), nil, opts)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.TermsQueried != len(macroTopics) {
		t.Errorf("terms = %d, want the standing macro topics", result.TermsQueried)
	}

	row, _ := s.GetByURL("https://x/fed")
	if row == nil || row.SearchedBy != MacroTerm {
		t.Fatalf("row = %+v, want searched_by MACRO", row)
	}
}

func TestNewsAPIProvider_FetchForTerm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("missing api key header")
		}
		if got := r.URL.Query().Get("q"); got != "AAPL" {
			t.Errorf("q = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"articles": []map[string]any{
				{
					"source":      map[string]any{"id": "reuters", "name": "Reuters"},
					"title":       "Apple expands services",
					"url":         "https://reuters.example/apple",
					"publishedAt": time.Now().UTC().Format(time.RFC3339),
				},
				{
					// Dropped: no URL.
					"source": map[string]any{"name": "Unknown"},
					"title":  "Broken entry",
				},
			},
		})
	}))
	defer srv.Close()

	p := NewNewsAPI(config.Providers{NewsAPIKey: "k", NewsAPIBaseURL: srv.URL})
	got, err := p.FetchForTerm(context.Background(), "AAPL", time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("FetchForTerm failed: %v", err)
	}
	if len(got) != 1 || got[0].SourceName != "Reuters" {
		t.Errorf("articles = %+v", got)
	}
}

func TestNewsAPIProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "error", "code": "rateLimited", "message": "too many requests",
		})
	}))
	defer srv.Close()

	p := NewNewsAPI(config.Providers{NewsAPIKey: "k", NewsAPIBaseURL: srv.URL})
	if _, err := p.FetchForTerm(context.Background(), "AAPL", time.Time{}, 10); err == nil {
		t.Fatal("want provider error surfaced")
	}
}
