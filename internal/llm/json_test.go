package llm

import "testing"

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"fenced no lang", "```\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"prose around", `Here you go: {"a": {"b": 2}} hope that helps`, `{"a": {"b": 2}}`, true},
		{"brace inside string", `{"a": "closing } brace"}`, `{"a": "closing } brace"}`, true},
		{"no object", "sorry, I cannot", "", false},
		{"unbalanced", `{"a": 1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.in)
			if tt.ok && err != nil {
				t.Fatalf("ExtractJSONObject(%q) error: %v", tt.in, err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("ExtractJSONObject(%q) expected error, got %q", tt.in, got)
			}
			if tt.ok && got != tt.want {
				t.Errorf("ExtractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeJSON_FencedAndRepaired(t *testing.T) {
	type payload struct {
		Relevance int    `json:"relevance"`
		Event     string `json:"event"`
	}

	var p payload
	if err := DecodeJSON("```json\n{\"relevance\": 2, \"event\": \"earnings\"}\n```", &p); err != nil {
		t.Fatalf("DecodeJSON fenced failed: %v", err)
	}
	if p.Relevance != 2 || p.Event != "earnings" {
		t.Errorf("decoded = %+v", p)
	}

	// Single quotes and trailing comma: repairable.
	var q payload
	if err := DecodeJSON("{'relevance': 3, 'event': 'macro',}", &q); err != nil {
		t.Fatalf("DecodeJSON repair failed: %v", err)
	}
	if q.Relevance != 3 || q.Event != "macro" {
		t.Errorf("repaired decode = %+v", q)
	}
}

func TestSanitizeControlChars(t *testing.T) {
	in := "line one\nline\ttwo\x00\x1b[31m"
	got := SanitizeControlChars(in)
	want := "line one\nline\ttwo[31m"
	if got != want {
		t.Errorf("SanitizeControlChars = %q, want %q", got, want)
	}
}
