package triage

import (
	"regexp"
	"strings"

	"marketbrief/internal/core"
)

// hardFilter is one pre-LLM title pattern. Name is persisted as the
// discard reason so operators can see which pattern fired.
type hardFilter struct {
	Name    string
	Pattern *regexp.Regexp
}

// hardFilters is the closed list of generic-content title patterns that
// never warrant an LLM call.
var hardFilters = []hardFilter{
	{"morning_brief", regexp.MustCompile(`(?i)\bmorning (brief|briefing|bell|note)\b`)},
	{"market_wrap", regexp.MustCompile(`(?i)\bmarket(s)? (wrap|recap|close|closing bell|today)\b`)},
	{"live_blog", regexp.MustCompile(`(?i)\blive( |-)?(blog|updates|coverage)\b`)},
	{"top_n_moves", regexp.MustCompile(`(?i)\btop \d+ (stocks|moves|movers|picks|things)\b`)},
	{"daily_roundup", regexp.MustCompile(`(?i)\b(daily|weekly|evening) (roundup|round-up|digest|recap)\b`)},
	{"newsletter", regexp.MustCompile(`(?i)\b(newsletter|subscribe|sign up|click here)\b`)},
	{"media_content", regexp.MustCompile(`(?i)^(video|podcast|slideshow|watch)\s*:|\b(photo gallery|in pictures)\b`)},
}

var sponsoredSources = regexp.MustCompile(`(?i)\b(sponsored|advertisement|promoted|partner content)\b`)

var meaningfulWord = regexp.MustCompile(`[A-Za-z]{4,}`)

// matchHardFilter returns the name of the first matching generic-content
// pattern, or "" when the title is worth triaging.
func matchHardFilter(title string) string {
	for _, f := range hardFilters {
		if f.Pattern.MatchString(title) {
			return f.Name
		}
	}
	return ""
}

// failsMinQuality reports whether a title or its source fails the cheap
// quality floor, with the reason that fired.
func failsMinQuality(title, sourceName string) (bool, string) {
	if len(strings.TrimSpace(title)) < 10 {
		return true, "title_too_short"
	}
	if !meaningfulWord.MatchString(title) {
		return true, "no_meaningful_word"
	}
	if sponsoredSources.MatchString(sourceName) {
		return true, "sponsored_source"
	}
	return false, ""
}

// lacksHoldingMention reports whether an article searched for a specific
// holding mentions neither its ticker nor any issuer label in title or
// description. This sets a scoring flag downstream; it never discards.
func lacksHoldingMention(a *core.Article, holdings []core.Holding) bool {
	searched := core.NormalizeTicker(a.SearchedBy)
	if searched == "" || strings.EqualFold(a.SearchedBy, "MACRO") {
		return false
	}

	var tracked bool
	for _, h := range holdings {
		if h.Ticker == searched {
			tracked = true
			break
		}
	}
	if !tracked {
		return false
	}

	haystack := strings.ToUpper(a.Title + " " + a.Description)
	for _, h := range holdings {
		if strings.Contains(haystack, h.Ticker) {
			return false
		}
		label := strings.ToUpper(strings.TrimSpace(h.Label))
		if len(label) > 3 && strings.Contains(haystack, label) {
			return false
		}
	}
	return true
}
