package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/llm"
	"marketbrief/internal/store"
)

// scriptedLLM returns queued responses in call order, then errors.
type scriptedLLM struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, req.User)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", errors.New("no scripted response")
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

func seedFetched(t *testing.T, s *store.Store, url, title string, contentLength int) *core.Article {
	t.Helper()
	a := &core.Article{URL: url, Title: title, SearchedBy: "AAPL", PublishedAt: time.Now().UTC()}
	if _, err := s.InsertArticle(a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.UpdateArticle(url, map[string]any{
		"clean_text":     strings.Repeat("x", contentLength),
		"content_length": contentLength,
		"status":         core.StatusContentFetched,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	row, err := s.GetByURL(url)
	if err != nil || row == nil {
		t.Fatalf("reload: %v", err)
	}
	return row
}

func TestProcessBatch_TwoPassFlow(t *testing.T) {
	s := newTestStore(t)
	keep := seedFetched(t, s, "https://x/keep", "Apple beats on earnings", 900)
	drop := seedFetched(t, s, "https://x/drop", "Celebrity spotted with iPhone", 900)

	client := &scriptedLLM{responses: []string{
		`{"https://x/keep": {"maybe_relevant": true, "impact_bucket": "high"},
		  "https://x/drop": {"maybe_relevant": false, "impact_bucket": "low"}}`,
		`{"https://x/keep": {"event_type": "earnings", "impact_score": 72, "sentiment": 0.5,
		  "sentiment_label": "positive", "risk_score": 30, "opportunity_score": 60,
		  "volatility_score": 40, "matched_tickers": ["aapl"], "matched_sectors": ["tech"]}}`,
	}}
	cl := New(s, client, config.DefaultThresholds())

	results, err := cl.ProcessBatch(context.Background(), []*core.Article{keep, drop})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("LLM calls = %d, want pass 1 + pass 2", client.calls)
	}
	// Pass 2 must not include the Pass 1 reject.
	if strings.Contains(client.prompts[1], "https://x/drop") {
		t.Error("pass 2 prompt contains a pass 1 reject")
	}

	if results[0].Status != core.StatusLLMProcessed || results[0].ImpactScore != 72 {
		t.Errorf("keep result = %+v", results[0])
	}
	if results[0].EventType != "earnings" || results[0].MatchedTickers[0] != "AAPL" {
		t.Errorf("keep result = %+v, want normalized ticker", results[0])
	}
	if len(results[0].MatchedHoldings) != 0 {
		t.Error("matched holdings must stay empty at classification")
	}
	if results[1].Status != core.StatusDiscarded || results[1].ImpactScore != 15 {
		t.Errorf("drop result = %+v, want discarded at impact 15", results[1])
	}

	row, _ := s.GetByURL(keep.URL)
	if row.Status != core.StatusLLMProcessed || row.ImpactScore == nil || *row.ImpactScore != 72 {
		t.Errorf("persisted keep = status %q impact %v", row.Status, row.ImpactScore)
	}
	if row.SentimentLabel != "positive" || row.RiskScore != 30 {
		t.Errorf("persisted analysis = %+v", row)
	}
	row, _ = s.GetByURL(drop.URL)
	if row.Status != core.StatusDiscarded || row.ImpactScore == nil || *row.ImpactScore != 15 {
		t.Errorf("persisted drop = status %q impact %v", row.Status, row.ImpactScore)
	}
	if row.EventType != core.EventOther {
		t.Errorf("drop event_type = %q", row.EventType)
	}
}

func TestProcessBatch_LowImpactPass2Discards(t *testing.T) {
	s := newTestStore(t)
	a := seedFetched(t, s, "https://x/weak", "Minor supplier note", 600)

	client := &scriptedLLM{responses: []string{
		`{"https://x/weak": {"maybe_relevant": true, "impact_bucket": "medium"}}`,
		`{"https://x/weak": {"event_type": "industry_trend", "impact_score": 12, "sentiment": 0,
		  "sentiment_label": "neutral", "matched_tickers": [], "matched_sectors": []}}`,
	}}
	cl := New(s, client, config.DefaultThresholds())

	results, err := cl.ProcessBatch(context.Background(), []*core.Article{a})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if results[0].Status != core.StatusDiscarded {
		t.Errorf("result = %+v, impact 12 is below the floor", results[0])
	}
	row, _ := s.GetByURL(a.URL)
	if row.Status != core.StatusDiscarded {
		t.Errorf("persisted status = %q", row.Status)
	}
}

func TestProcessBatch_Guards(t *testing.T) {
	s := newTestStore(t)
	client := &scriptedLLM{}
	cl := New(s, client, config.DefaultThresholds())

	short := seedFetched(t, s, "https://x/short", "Too short to classify", 120)
	done := seedFetched(t, s, "https://x/done", "Already classified", 900)
	_ = s.UpdateArticle(done.URL, map[string]any{"impact_score": 55.0, "status": core.StatusLLMProcessed})
	done, _ = s.GetByURL(done.URL)

	pending := &core.Article{URL: "https://x/pending", Title: "Still pending", SearchedBy: "AAPL", PublishedAt: time.Now().UTC()}
	if _, err := s.InsertArticle(pending); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := cl.ProcessBatch(context.Background(), []*core.Article{
		short, done, pending, {URL: "https://missing/z"},
	})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("LLM calls = %d, all rows were ineligible", client.calls)
	}

	if results[0].Status != core.StatusDiscarded || results[0].SkipReason != "contentTooShort" {
		t.Errorf("short result = %+v", results[0])
	}
	if !results[1].Skipped || results[1].SkipReason != "alreadyClassified" || results[1].ImpactScore != 55 {
		t.Errorf("done result = %+v", results[1])
	}
	if !results[2].Skipped || results[2].SkipReason != "wrongStatus" {
		t.Errorf("pending result = %+v", results[2])
	}
	if !results[3].Skipped || results[3].SkipReason != "notFound" {
		t.Errorf("missing result = %+v", results[3])
	}

	row, _ := s.GetByURL(short.URL)
	if row.Status != core.StatusDiscarded {
		t.Errorf("short persisted status = %q", row.Status)
	}
}

func TestProcessBatch_MissingFromPass1FallsBackPerArticle(t *testing.T) {
	s := newTestStore(t)
	answered := seedFetched(t, s, "https://x/answered", "Chipmaker raises guidance", 900)
	ghost := seedFetched(t, s, "https://x/ghost", "Insurer beats estimates", 900)

	// Pass 1 answers for one article only. The missing one is an LLM
	// failure, not a low bucket: it gets its own pass 2 call, and when
	// that fails too the row must stay eligible for a later run.
	client := &scriptedLLM{
		errs: []error{nil, errors.New("model overloaded")},
		responses: []string{
			`{"https://x/answered": {"maybe_relevant": true, "impact_bucket": "high"},
			  "https://x/somebody-else": {"maybe_relevant": false, "impact_bucket": "low"}}`,
			"",
			`{"https://x/answered": {"event_type": "guidance", "impact_score": 68, "sentiment": 0.4,
			  "sentiment_label": "positive", "matched_tickers": [], "matched_sectors": []}}`,
		},
	}
	cl := New(s, client, config.DefaultThresholds())

	results, err := cl.ProcessBatch(context.Background(), []*core.Article{answered, ghost})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if client.calls != 3 {
		t.Errorf("LLM calls = %d, want pass 1 + individual retry + pass 2", client.calls)
	}

	if results[0].Status != core.StatusLLMProcessed || results[0].EventType != "guidance" {
		t.Errorf("answered result = %+v", results[0])
	}
	if results[1].Err == nil {
		t.Errorf("ghost result = %+v, want error", results[1])
	}

	row, _ := s.GetByURL(ghost.URL)
	if row.Status != core.StatusContentFetched {
		t.Errorf("ghost status = %q, must not be discarded", row.Status)
	}
	if row.LLMAttempts != 1 {
		t.Errorf("llm_attempts = %d, want 1", row.LLMAttempts)
	}
	if row.LastError == "" {
		t.Error("last_error should be recorded")
	}
	if row.ImpactScore != nil {
		t.Error("impact_score must stay null, not the low bucket default")
	}
}

func TestProcessBatch_BatchFailureFallsBackPerArticle(t *testing.T) {
	s := newTestStore(t)
	a := seedFetched(t, s, "https://x/a", "Fed raises rates", 900)
	b := seedFetched(t, s, "https://x/b", "Bank posts record profit", 900)

	// Pass 1 fails; each article then gets its own pass 2 call. The second
	// individual call also fails and must leave that row untouched.
	client := &scriptedLLM{
		errs: []error{errors.New("model overloaded"), nil, errors.New("model overloaded")},
		responses: []string{
			"",
			`{"https://x/a": {"event_type": "macro", "impact_score": 65, "sentiment": -0.3,
			  "sentiment_label": "negative", "matched_tickers": [], "matched_sectors": []}}`,
		},
	}
	cl := New(s, client, config.DefaultThresholds())

	results, err := cl.ProcessBatch(context.Background(), []*core.Article{a, b})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if client.calls != 3 {
		t.Errorf("LLM calls = %d, want failed batch + 2 individual", client.calls)
	}

	if results[0].Status != core.StatusLLMProcessed || results[0].EventType != "macro" {
		t.Errorf("recovered result = %+v", results[0])
	}
	if results[1].Err == nil {
		t.Errorf("failed result = %+v, want error", results[1])
	}

	row, _ := s.GetByURL(b.URL)
	if row.Status != core.StatusContentFetched {
		t.Errorf("failed row status = %q, must not advance", row.Status)
	}
	if row.LLMAttempts != 1 {
		t.Errorf("llm_attempts = %d", row.LLMAttempts)
	}
	if row.LastError == "" {
		t.Error("last_error should be recorded")
	}
	if row.ImpactScore != nil {
		t.Error("impact_score must stay null on failure")
	}
}

func TestSanitizeAnalysis_ClampsAndDefaults(t *testing.T) {
	got := sanitizeAnalysis("u", analysis{
		EventType:      "press release",
		ImpactScore:    140,
		Sentiment:      -3,
		SentimentLabel: "angry",
		RiskScore:      -5,
		MatchedTickers: []string{" brk.b ", ""},
	}, config.DefaultThresholds())

	if got.EventType != core.EventOther {
		t.Errorf("event_type = %q", got.EventType)
	}
	if got.ImpactScore != 100 || got.Sentiment != -1 {
		t.Errorf("clamps: impact %v sentiment %v", got.ImpactScore, got.Sentiment)
	}
	if got.SentimentLabel != "negative" {
		t.Errorf("label = %q, want derived from sentiment", got.SentimentLabel)
	}
	if got.RiskScore != 0 {
		t.Errorf("risk = %v", got.RiskScore)
	}
	if len(got.MatchedTickers) != 1 || got.MatchedTickers[0] != "BRK-B" {
		t.Errorf("tickers = %v", got.MatchedTickers)
	}
	if got.Status != core.StatusLLMProcessed {
		t.Errorf("status = %q", got.Status)
	}
}

func TestExcerpt(t *testing.T) {
	short := "A short body."
	if Excerpt(short, 800) != short {
		t.Error("short text should pass through unchanged")
	}

	long := strings.Repeat("a", 500) + strings.Repeat("b", 500)
	got := Excerpt(long, 800)
	if !strings.Contains(got, "[...content...]") {
		t.Errorf("long excerpt missing marker: %q", got[:40])
	}
	if !strings.HasPrefix(got, "aaaa") || !strings.HasSuffix(got, "bbbb") {
		t.Error("excerpt should keep head and tail")
	}
	if len(got) > 1200+len(" [...content...] ") {
		t.Errorf("excerpt too long: %d", len(got))
	}
}
