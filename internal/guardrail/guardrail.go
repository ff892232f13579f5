// Package guardrail constrains interpretation fields to their closed
// vocabularies and strips advice language before anything is persisted.
package guardrail

import (
	"strings"

	"marketbrief/internal/core"
)

// ActionDoNothing is the safe default action.
const ActionDoNothing = "Do nothing"

// NeutralWhy replaces a why list emptied by advice filtering.
const NeutralWhy = "Relevant development for a holding in your portfolio"

var allowedVerdicts = map[string]bool{
	"ignore": true,
	"aware":  true,
	"act":    true,
}

var allowedActions = map[string]bool{
	ActionDoNothing:               true,
	"Review position sizing":      true,
	"Read the full story":         true,
	"Watch for follow-up reports": true,
	"Check upcoming earnings":     true,
}

var allowedOpportunityTypes = map[string]bool{
	"none":       true,
	"behavioral": true,
	"awareness":  true,
	"allocation": true,
}

// adviceWords is the closed list of forbidden vocabulary. Matching is
// case-insensitive substring.
var adviceWords = []string{
	"buy",
	"sell",
	"entry point",
	"undervalued",
	"overvalued",
	"load up",
	"invest now",
	"should buy",
	"should sell",
}

// Sanitize enforces the interpretation vocabulary on a signal. Out-of-set
// values are forced to their safe defaults, any advice wording triggers a
// downgrade to verdict=aware / "Do nothing", and numeric scores are
// clamped to [0,100].
func Sanitize(s core.Signal) core.Signal {
	if !allowedVerdicts[s.Verdict] {
		s.Verdict = "aware"
	}
	if !allowedActions[s.Action] {
		s.Action = ActionDoNothing
	}
	if !allowedOpportunityTypes[s.OpportunityType] {
		s.OpportunityType = "none"
	}
	if len(s.Why) > 3 {
		s.Why = s.Why[:3]
	}

	if containsAdvice(s.Title) || anyAdvice(s.Why) || containsAdvice(s.Action) || containsAdvice(s.OpportunityNote) {
		s.Verdict = "aware"
		s.Action = ActionDoNothing
		s.OpportunityType = "none"
		s.OpportunityNote = ""

		filtered := make([]string, 0, len(s.Why))
		for _, w := range s.Why {
			if !containsAdvice(w) {
				filtered = append(filtered, w)
			}
		}
		if len(filtered) == 0 {
			filtered = []string{NeutralWhy}
		}
		s.Why = filtered
	}

	s.Confidence = clamp(s.Confidence)
	s.ImportanceScore = clamp(s.ImportanceScore)
	return s
}

// ContainsAdvice reports whether text holds any forbidden advice word.
func ContainsAdvice(text string) bool { return containsAdvice(text) }

func containsAdvice(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range adviceWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func anyAdvice(entries []string) bool {
	for _, e := range entries {
		if containsAdvice(e) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
