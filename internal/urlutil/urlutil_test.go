package urlutil

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips www and tracking", "https://www.site.com/x/?utm_source=foo", "https://site.com/x"},
		{"upgrades http", "http://site.com/x", "https://site.com/x"},
		{"keeps id params", "https://site.com/a?id=5&utm_medium=rss", "https://site.com/a?id=5"},
		{"keeps article_id and story_id", "https://site.com/a?article_id=9&story_id=2", "https://site.com/a?article_id=9&story_id=2"},
		{"drops fragment", "https://site.com/a#section", "https://site.com/a"},
		{"drops gclid and ref", "https://site.com/a?gclid=x&ref=tw", "https://site.com/a"},
		{"keeps root slash", "https://site.com/", "https://site.com/"},
		{"trims trailing slash", "https://site.com/path/", "https://site.com/path"},
		{"localhost keeps scheme", "http://localhost:8080/x", "http://localhost:8080/x"},
		{"lowercases host", "https://WWW.Site.COM/x", "https://site.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_UnparseableReturnsInput(t *testing.T) {
	in := "://not a url"
	if got := Normalize(in); got != in {
		t.Errorf("Normalize(%q) = %q, want input unchanged", in, got)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"http://www.site.com/x/?utm_source=a&id=1",
		"https://site.com/a?b=2&a=1#frag",
		"HTTP://EXAMPLE.ORG/News/Today/",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalize_QueryKeySetPreserved(t *testing.T) {
	// Reordered query parameters must normalize to the same URL.
	a := Normalize("https://site.com/a?x=1&y=2&utm_source=n")
	b := Normalize("https://site.com/a?y=2&utm_source=n&x=1")
	if a != b {
		t.Errorf("query reordering changed result: %q vs %q", a, b)
	}
}

func TestNormalizedDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Site.com/x", "site.com"},
		{"http://news.example.org/a", "news.example.org"},
		{"garbage", ""},
	}
	for _, tt := range tests {
		if got := NormalizedDomain(tt.in); got != tt.want {
			t.Errorf("NormalizedDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalURL(t *testing.T) {
	html := `<html><head><link rel="canonical" href="https://site.com/real-story" /></head><body></body></html>`
	if got := CanonicalURL(html); got != "https://site.com/real-story" {
		t.Errorf("CanonicalURL = %q", got)
	}

	if got := CanonicalURL("<html><head></head></html>"); got != "" {
		t.Errorf("CanonicalURL without link = %q, want empty", got)
	}
}

func TestTitleHashBucket(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Apple beats earnings expectations again", "apple_beats_earnings"},
		{"Apple, beats: earnings! expectations", "apple_beats_earnings"},
		{"One two", "one_two"},
		{"", ""},
		{"   ", ""},
		{"Fed raises rates by 25bps", "fed_raises_rates"},
	}
	for _, tt := range tests {
		if got := TitleHashBucket(tt.title); got != tt.want {
			t.Errorf("TitleHashBucket(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
