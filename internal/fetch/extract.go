package fetch

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Elements that never carry article text.
const removeSelectors = "script, style, nav, header, footer, aside, form, iframe, noscript, " +
	".sidebar, #sidebar, .ad, .ads, .advertisement, .popup, .modal, .cookie-banner, .cookie-notice, " +
	".newsletter-signup, .related-articles, .share-buttons"

// Containers tried in order before falling back to the whole body.
var mainContentSelectors = []string{
	"article",
	"main",
	"[role='main']",
	".article-body",
	".post-content",
	".entry-content",
	".main-content",
	".story-body",
	".content",
	"#content",
}

var multiNewline = regexp.MustCompile(`(\n\s*){2,}`)
var multiSpace = regexp.MustCompile(`[ \t]{2,}`)

// ExtractText pulls the readable article text out of an HTML document:
// boilerplate elements removed, article-like containers preferred,
// whitespace collapsed. Returns "" when nothing textual survives.
func ExtractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find(removeSelectors).Remove()

	var sb strings.Builder
	appendBlocks := func(s *goquery.Selection) {
		s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			text := strings.TrimSpace(item.Text())
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n\n")
			}
		})
	}

	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			appendBlocks(s)
		})
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		appendBlocks(doc.Find("body"))
	}

	text := multiNewline.ReplaceAllString(sb.String(), "\n")
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// boilerplatePhrases mark consent walls and subscription chrome rather
// than article text.
var boilerplatePhrases = []string{
	"subscribe to our newsletter",
	"cookie policy",
	"terms of service",
	"accept all cookies",
	"enable javascript",
	"sign in to continue",
}

// IsBoilerplate reports whether cleaned text is dominated by consent or
// subscription chrome: more than 3 phrase hits per 500 characters.
func IsBoilerplate(text string) bool {
	if text == "" {
		return true
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, phrase := range boilerplatePhrases {
		hits += strings.Count(lower, phrase)
	}
	if hits == 0 {
		return false
	}
	density := float64(hits) / (float64(len(text)) / 500.0)
	return density > 3
}
