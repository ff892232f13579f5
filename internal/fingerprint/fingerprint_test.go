package fingerprint

import (
	"strings"
	"testing"
)

func TestSimHash_EmptyText(t *testing.T) {
	if got := SimHash(""); got != EmptyFingerprint {
		t.Errorf("SimHash(\"\") = %q, want %q", got, EmptyFingerprint)
	}
	// Tokens of length <= 2 are filtered out entirely.
	if got := SimHash("a an to of"); got != EmptyFingerprint {
		t.Errorf("SimHash(short tokens) = %q, want %q", got, EmptyFingerprint)
	}
}

func TestSimHash_Deterministic(t *testing.T) {
	text := "Apple reported record quarterly earnings driven by strong iPhone demand"
	a := SimHash(text)
	b := SimHash(text)
	if a != b {
		t.Errorf("SimHash not deterministic: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("SimHash length = %d, want 16", len(a))
	}
	if a == EmptyFingerprint {
		t.Error("SimHash of real text should not be the empty fingerprint")
	}
}

func TestSimHash_CaseAndPunctuationInsensitive(t *testing.T) {
	a := SimHash("Apple reported record quarterly earnings")
	b := SimHash("apple, reported; RECORD quarterly earnings!")
	if a != b {
		t.Errorf("SimHash should ignore case and punctuation: %q vs %q", a, b)
	}
}

func TestSimHash_SimilarTextsAreClose(t *testing.T) {
	base := strings.Repeat("federal reserve raised interest rates quarter point citing persistent inflation pressure across services housing sectors ", 5)
	variant := base + "additional closing remark"

	d := Hamming(SimHash(base), SimHash(variant))
	if d > 10 {
		t.Errorf("near-identical texts have distance %d, expected small", d)
	}
}

func TestHamming(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "deadbeefdeadbeef", "deadbeefdeadbeef", 0},
		{"one bit", "0000000000000000", "0000000000000001", 1},
		{"one nibble all bits", "0000000000000000", "000000000000000f", 4},
		{"all bits", "0000000000000000", "ffffffffffffffff", 64},
		{"empty a", "", "deadbeefdeadbeef", MaxDistance},
		{"short b", "deadbeefdeadbeef", "dead", MaxDistance},
		{"both empty", "", "", MaxDistance},
		{"non-hex", "zzzzzzzzzzzzzzzz", "0000000000000000", MaxDistance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Hamming(tt.a, tt.b); got != tt.want {
				t.Errorf("Hamming(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestHamming_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{SimHash("first sample article about markets"), SimHash("second sample article about energy")},
		{"0123456789abcdef", "fedcba9876543210"},
	}
	for _, p := range pairs {
		if Hamming(p[0], p[1]) != Hamming(p[1], p[0]) {
			t.Errorf("Hamming not symmetric for %q / %q", p[0], p[1])
		}
		if Hamming(p[0], p[0]) != 0 {
			t.Errorf("Hamming(h, h) != 0 for %q", p[0])
		}
	}
}
