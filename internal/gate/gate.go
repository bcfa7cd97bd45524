// Package gate classifies raw input before ingest: a pure
// classifier from input string to one of {P0, P1, P2, P3}. The
// keyword and pattern sets are carried as literal data, not derived.
package gate

import (
	"regexp"
	"strings"
)

// Priority is one of the four classification outcomes.
type Priority int

const (
	P0 Priority = iota // critical
	P1                 // decision
	P2                 // substantive, unclassified
	P3                 // filler — dropped
)

// String renders p for logging.
func (p Priority) String() string {
	switch p {
	case P0:
		return "P0"
	case P1:
		return "P1"
	case P2:
		return "P2"
	case P3:
		return "P3"
	default:
		return "P?"
	}
}

// P2Threshold is the minimum length (after trimming) for a string that
// doesn't match P0/P1/P3 to be classified P2 rather than dropped as
// P3.
const P2Threshold = 40

// p3MinLen is the absolute floor below which input is always P3
// regardless of content ("anything under 15 characters").
const p3MinLen = 15

var p0Substrings = []string{
	"critical", "urgent", "security", "breach", "outage", "deadline",
	"production down", "data loss",
}

// p0CurrencyPattern matches a currency amount of 100 or more of the
// unit: a leading "$" (optionally spaced) followed by a digit, then at
// least two more digits or thousands separators.
var p0CurrencyPattern = regexp.MustCompile(`\$\s?[0-9][0-9,]{2,}`)

var p1Substrings = []string{
	"decided", "decide", "chose", "choose", "selected", "assign",
	"assigned", "agreed", "approved", "going with", "will use",
}

var p3ExactPhrases = map[string]bool{
	"hi": true, "hello": true, "hey": true, "thanks": true,
	"thank you": true, "ok": true, "okay": true, "got it": true,
	"sounds good": true, "np": true, "yep": true, "yes": true,
	"no": true, "sure": true,
}

// emojiOnlyPattern matches any ASCII letter or digit. Input it does
// not match (e.g. pure emoji/punctuation) counts as filler regardless
// of length.
var emojiOnlyPattern = regexp.MustCompile(`[A-Za-z0-9]`)

// Classify applies the ordered P0 > P1 > P2 > P3 rules and returns
// its priority. Classify is pure: it never mutates or persists state.
func Classify(input string) Priority {
	trimmed := strings.TrimSpace(input)
	lower := strings.ToLower(trimmed)

	if containsAny(lower, p0Substrings) || p0CurrencyPattern.MatchString(trimmed) {
		return P0
	}

	if containsAny(lower, p1Substrings) {
		return P1
	}

	if isP3(trimmed, lower) {
		return P3
	}

	if len([]rune(trimmed)) >= P2Threshold {
		return P2
	}

	return P3
}

func isP3(trimmed, lower string) bool {
	if len([]rune(trimmed)) < p3MinLen {
		return true
	}

	if !emojiOnlyPattern.MatchString(trimmed) {
		return true
	}

	return p3ExactPhrases[lower]
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}

	return false
}
