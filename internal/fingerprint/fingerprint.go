// Package fingerprint computes locality-sensitive 64-bit SimHash
// fingerprints over cleaned article text for near-duplicate detection.
package fingerprint

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/bits"
	"regexp"
	"strings"
)

// EmptyFingerprint is the fingerprint of empty or token-free text.
const EmptyFingerprint = "0000000000000000"

// MaxDistance is returned by Hamming for invalid or mismatched inputs.
const MaxDistance = 64

var nonWordRegex = regexp.MustCompile(`\W+`)

// SimHash returns the 64-bit SimHash of text as a 16-character lower-hex
// string. Tokens are lowercased words longer than 2 characters; each
// token contributes the first 64 bits of its MD5 to a signed bit-vote
// vector, and the final bit is 1 where the vote is strictly positive.
func SimHash(text string) string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return EmptyFingerprint
	}

	var votes [64]int
	for _, tok := range tokens {
		sum := md5.Sum([]byte(tok))
		h := binary.BigEndian.Uint64(sum[:8])
		for i := 0; i < 64; i++ {
			if h&(1<<uint(63-i)) != 0 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}

	var out uint64
	for i := 0; i < 64; i++ {
		if votes[i] > 0 {
			out |= 1 << uint(63-i)
		}
	}
	return fmt.Sprintf("%016x", out)
}

// Hamming returns the number of differing bits between two 16-hex-char
// fingerprints, in [0,64]. Empty or length-mismatched inputs count as
// maximally distant.
func Hamming(a, b string) int {
	if len(a) != 16 || len(b) != 16 {
		return MaxDistance
	}
	dist := 0
	for i := 0; i < 16; i++ {
		na, ok1 := nibble(a[i])
		nb, ok2 := nibble(b[i])
		if !ok1 || !ok2 {
			return MaxDistance
		}
		dist += bits.OnesCount8(na ^ nb)
	}
	return dist
}

func nibble(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func tokenize(text string) []string {
	cleaned := nonWordRegex.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(cleaned)
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
