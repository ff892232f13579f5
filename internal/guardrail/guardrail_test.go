package guardrail

import (
	"testing"

	"marketbrief/internal/core"
)

func TestSanitize_PassThroughCleanSignal(t *testing.T) {
	in := core.Signal{
		Title:           "Apple reports record services revenue",
		Verdict:         "act",
		Why:             []string{"Earnings beat expectations", "Services margin expanded"},
		Action:          "Read the full story",
		OpportunityType: "awareness",
		OpportunityNote: "Watch next quarter guidance",
		Confidence:      72,
		ImportanceScore: 60,
	}
	out := Sanitize(in)
	if out.Verdict != "act" {
		t.Errorf("Verdict = %q, want act", out.Verdict)
	}
	if out.Action != "Read the full story" {
		t.Errorf("Action = %q", out.Action)
	}
	if len(out.Why) != 2 {
		t.Errorf("Why entries = %d, want 2", len(out.Why))
	}
}

func TestSanitize_ForcesClosedSets(t *testing.T) {
	out := Sanitize(core.Signal{
		Verdict:         "panic",
		Action:          "YOLO calls",
		OpportunityType: "guaranteed",
	})
	if out.Verdict != "aware" {
		t.Errorf("Verdict = %q, want aware", out.Verdict)
	}
	if out.Action != ActionDoNothing {
		t.Errorf("Action = %q, want %q", out.Action, ActionDoNothing)
	}
	if out.OpportunityType != "none" {
		t.Errorf("OpportunityType = %q, want none", out.OpportunityType)
	}
}

func TestSanitize_AdviceDowngrade(t *testing.T) {
	out := Sanitize(core.Signal{
		Title:           "Apple earnings beat",
		Verdict:         "act",
		Why:             []string{"Buy AAPL now", "Earnings beat expectations"},
		Action:          "Read the full story",
		OpportunityType: "allocation",
		OpportunityNote: "great entry point here",
		Confidence:      80,
	})

	if out.Verdict != "aware" {
		t.Errorf("Verdict = %q, want aware after advice downgrade", out.Verdict)
	}
	if out.Action != ActionDoNothing {
		t.Errorf("Action = %q, want %q", out.Action, ActionDoNothing)
	}
	if out.OpportunityType != "none" || out.OpportunityNote != "" {
		t.Errorf("opportunity fields not cleared: %q / %q", out.OpportunityType, out.OpportunityNote)
	}
	if len(out.Why) != 1 || out.Why[0] != "Earnings beat expectations" {
		t.Errorf("Why = %v, want advice entry stripped", out.Why)
	}
}

func TestSanitize_EmptiedWhyGetsPlaceholder(t *testing.T) {
	out := Sanitize(core.Signal{
		Verdict: "aware",
		Why:     []string{"Stock looks undervalued", "You should buy the dip"},
		Action:  ActionDoNothing,
	})
	if len(out.Why) != 1 || out.Why[0] != NeutralWhy {
		t.Errorf("Why = %v, want single neutral placeholder", out.Why)
	}
}

func TestSanitize_TruncatesWhyToThree(t *testing.T) {
	out := Sanitize(core.Signal{
		Verdict: "ignore",
		Action:  ActionDoNothing,
		Why:     []string{"one", "two", "three", "four"},
	})
	if len(out.Why) != 3 {
		t.Errorf("Why entries = %d, want 3", len(out.Why))
	}
}

func TestSanitize_ClampsScores(t *testing.T) {
	out := Sanitize(core.Signal{Verdict: "aware", Action: ActionDoNothing, Confidence: 140, ImportanceScore: -5})
	if out.Confidence != 100 {
		t.Errorf("Confidence = %v, want 100", out.Confidence)
	}
	if out.ImportanceScore != 0 {
		t.Errorf("ImportanceScore = %v, want 0", out.ImportanceScore)
	}
}

func TestContainsAdvice_CaseInsensitive(t *testing.T) {
	if !ContainsAdvice("This is UNDERVALUED territory") {
		t.Error("expected advice match on UNDERVALUED")
	}
	if ContainsAdvice("Quarterly report released") {
		t.Error("unexpected advice match on neutral text")
	}
}
