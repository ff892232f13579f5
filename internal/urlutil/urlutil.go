// Package urlutil produces the canonical forms of article URLs and titles
// that the deduplicator keys on.
package urlutil

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tracking query keys dropped during normalization. Identifier-looking
// keys (id, article_id, story_id) are deliberately preserved.
var trackingKeys = map[string]bool{
	"gclid":    true,
	"fbclid":   true,
	"ref":      true,
	"source":   true,
	"campaign": true,
	"medium":   true,
}

// Normalize returns the canonical form of a URL: https scheme, lowercased
// host without www., no trailing slash, tracking parameters and fragment
// dropped. An unparseable input is returned unchanged; Normalize never
// fails.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if u.Scheme != "https" && host != "localhost" && !strings.HasPrefix(host, "localhost:") {
		u.Scheme = "https"
	}

	host = strings.TrimPrefix(host, "www.")
	u.Host = host

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			lower := strings.ToLower(key)
			if trackingKeys[lower] || strings.HasPrefix(lower, "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}

// NormalizedDomain returns the lowercased host of a URL with any leading
// www. removed, or "" if the URL cannot be parsed.
func NormalizedDomain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// CanonicalURL extracts the href of a <link rel="canonical"> element from
// an HTML document, or "" when absent or unparseable.
func CanonicalURL(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok {
		return ""
	}
	return strings.TrimSpace(href)
}

var titleSplitRegex = regexp.MustCompile(`[^a-z0-9]+`)

// TitleHashBucket groups near-identical headlines: the first three
// lowercased words of the title joined by underscores. Punctuation
// collapses to word boundaries, so it depends only on the leading tokens.
func TitleHashBucket(title string) string {
	words := titleSplitRegex.Split(strings.ToLower(title), -1)
	kept := make([]string, 0, 3)
	for _, w := range words {
		if w == "" {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 3 {
			break
		}
	}
	return strings.Join(kept, "_")
}
