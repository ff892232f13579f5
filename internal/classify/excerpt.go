package classify

import "strings"

// excerptMarker replaces the elided middle of a long article.
const excerptMarker = " [...content...] "

// Excerpt bounds article text for a prompt. Short text passes through
// whole; longer text keeps the intro and the conclusion, which is where
// news writing carries its facts, and elides the middle.
func Excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	part := limit * 3 / 4
	head := strings.TrimSpace(text[:part])
	tail := strings.TrimSpace(text[len(text)-part:])
	return head + excerptMarker + tail
}
