package dedup

import (
	"strings"
	"testing"
	"time"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
	"marketbrief/internal/fingerprint"
	"marketbrief/internal/store"
	"marketbrief/internal/urlutil"
)

func newDedup(t *testing.T) (*Deduplicator, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, config.DefaultThresholds()), s
}

// seedFetched inserts an article and promotes it to content_fetched with
// the derived identity fields Stage 2 would have written.
func seedFetched(t *testing.T, s *store.Store, url, title, text string) *core.Article {
	t.Helper()
	a := &core.Article{URL: url, Title: title, SearchedBy: "AAPL", PublishedAt: time.Now().UTC()}
	if _, err := s.InsertArticle(a); err != nil {
		t.Fatalf("insert %s: %v", url, err)
	}
	err := s.UpdateArticle(url, map[string]any{
		"clean_text":          text,
		"content_length":      len(text),
		"content_fingerprint": fingerprint.SimHash(text),
		"normalized_url":      urlutil.Normalize(url),
		"normalized_domain":   urlutil.NormalizedDomain(url),
		"title_hash_bucket":   urlutil.TitleHashBucket(title),
		"status":              core.StatusContentFetched,
	})
	if err != nil {
		t.Fatalf("update %s: %v", url, err)
	}
	row, err := s.GetByURL(url)
	if err != nil || row == nil {
		t.Fatalf("reload %s: %v", url, err)
	}
	return row
}

func TestProcess_NormalizedURLMatch(t *testing.T) {
	d, s := newDedup(t)

	body := strings.Repeat("Apple reported record services revenue for the quarter. ", 20)
	original := seedFetched(t, s, "https://www.site.com/x/?utm_source=foo", "Apple services revenue record", body)
	later := seedFetched(t, s, "http://site.com/x", "Apple services revenue record", body)

	res := d.Process(later)
	if res.Err != nil {
		t.Fatalf("Process error: %v", res.Err)
	}
	if !res.IsDuplicate || res.MatchedBy != MatchNormalizedURL {
		t.Fatalf("result = %+v, want normalized_url duplicate", res)
	}
	if res.DuplicateOf != original.ID {
		t.Errorf("duplicate_of = %d, want %d", res.DuplicateOf, original.ID)
	}

	row, _ := s.GetByURL(later.URL)
	if row.Status != core.StatusDuplicate {
		t.Errorf("status = %q", row.Status)
	}
	if row.DuplicateOf != original.ID {
		t.Errorf("persisted duplicate_of = %d", row.DuplicateOf)
	}
}

func TestProcess_CanonicalURLMatch(t *testing.T) {
	d, s := newDedup(t)

	body1 := strings.Repeat("The merger review entered its second phase on Monday. ", 20)
	body2 := strings.Repeat("Regulators opened a deeper probe into the deal terms. ", 20)
	original := seedFetched(t, s, "https://a.example/story-1", "Merger review second phase", body1)
	syndicated := seedFetched(t, s, "https://b.example/wire/123", "Regulators deepen deal probe", body2)

	canonical := "https://origin.example/the-story"
	_ = s.UpdateArticle(original.URL, map[string]any{"canonical_url": canonical})
	_ = s.UpdateArticle(syndicated.URL, map[string]any{"canonical_url": canonical})
	syndicated, _ = s.GetByURL(syndicated.URL)

	res := d.Process(syndicated)
	if !res.IsDuplicate || res.MatchedBy != MatchCanonicalURL {
		t.Fatalf("result = %+v, want canonical_url duplicate", res)
	}
	if res.DuplicateOf != original.ID {
		t.Errorf("duplicate_of = %d, want %d", res.DuplicateOf, original.ID)
	}
}

func TestProcess_FingerprintMatch(t *testing.T) {
	d, s := newDedup(t)

	body := strings.Repeat("Nvidia guidance beat consensus estimates by a wide margin on data center demand. ", 15)
	// Same domain keeps the pair inside the candidate window; identical
	// body text puts the fingerprints at distance zero even though the
	// URLs and titles differ.
	original := seedFetched(t, s, "https://wire.example/a", "Nvidia guidance beats consensus", body)
	near := seedFetched(t, s, "https://wire.example/b", "Chipmaker tops guidance estimates", body)

	res := d.Process(near)
	if !res.IsDuplicate || res.MatchedBy != MatchFingerprint {
		t.Fatalf("result = %+v, want fingerprint duplicate", res)
	}
	if res.DuplicateOf != original.ID {
		t.Errorf("duplicate_of = %d, want %d", res.DuplicateOf, original.ID)
	}
}

func TestProcess_UnrelatedContentStaysLive(t *testing.T) {
	d, s := newDedup(t)

	seedFetched(t, s, "https://wire.example/a", "Fed holds rates steady",
		strings.Repeat("The central bank left its policy rate unchanged and flagged sticky inflation. ", 15))
	other := seedFetched(t, s, "https://wire.example/b", "Retailer posts surprise loss",
		strings.Repeat("The discount chain missed on margins as freight costs climbed sharply. ", 15))

	res := d.Process(other)
	if res.Err != nil {
		t.Fatalf("Process error: %v", res.Err)
	}
	if res.IsDuplicate {
		t.Fatalf("unrelated article marked duplicate: %+v", res)
	}
	row, _ := s.GetByURL(other.URL)
	if row.Status != core.StatusContentFetched {
		t.Errorf("status = %q, want unchanged", row.Status)
	}
}

func TestProcess_Guards(t *testing.T) {
	d, s := newDedup(t)

	res := d.Process(&core.Article{URL: "https://missing/x"})
	if !res.Skipped || res.SkipReason != "notFound" {
		t.Errorf("missing result = %+v", res)
	}

	a := &core.Article{URL: "https://x/pending", Title: "Pending item", SearchedBy: "AAPL", PublishedAt: time.Now().UTC()}
	if _, err := s.InsertArticle(a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res = d.Process(a)
	if !res.Skipped || res.SkipReason != "wrongStatus" {
		t.Errorf("pending result = %+v", res)
	}

	body := strings.Repeat("Identical newswire text republished verbatim across outlets. ", 20)
	orig := seedFetched(t, s, "https://x/orig", "Newswire text republished", body)
	dup := seedFetched(t, s, "https://x/dup", "Newswire text republished", body)

	first := d.Process(dup)
	if !first.IsDuplicate {
		t.Fatalf("first pass = %+v", first)
	}
	again := d.Process(dup)
	if !again.Skipped || again.SkipReason != "alreadyDuplicate" {
		t.Errorf("second pass = %+v", again)
	}
	if again.DuplicateOf != orig.ID {
		t.Errorf("second pass duplicate_of = %d", again.DuplicateOf)
	}
}

func TestProcessBatch_EarlierRowWins(t *testing.T) {
	d, s := newDedup(t)

	body := strings.Repeat("Exact same syndicated copy appears on two partner sites today. ", 20)
	a := seedFetched(t, s, "https://partner-one.example/s?utm_campaign=x", "Syndicated copy appears twice", body)
	b := seedFetched(t, s, "https://partner-two.example/s", "Syndicated copy appears twice", body)

	results := d.ProcessBatch([]*core.Article{a, b})
	if results[0].IsDuplicate {
		t.Errorf("first row should survive as original: %+v", results[0])
	}
	if !results[1].IsDuplicate || results[1].DuplicateOf != a.ID {
		t.Errorf("second row = %+v, want duplicate of %d", results[1], a.ID)
	}
}
