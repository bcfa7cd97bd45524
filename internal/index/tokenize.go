package index

import (
	"strings"
	"unicode"
)

// Stopwords is the built-in English stopword set
// (carried as literal data, not re-derived at runtime).
var Stopwords = buildStopwords(
	"a", "an", "and", "are", "as", "at",
	"be", "by", "for", "from", "has", "he", "in", "is", "it", "its", "of", "on", "that", "the", "to",
	"was", "were", "will", "with", "this", "but", "they", "have", "had", "what", "when", "where",
	"who", "which", "their", "said", "each", "she", "do", "how", "if", "up", "out", "many", "then",
	"them", "these", "so", "some", "her", "would", "make", "like", "into", "him", "time", "two",
	"more", "go", "no", "way", "could", "my", "than", "first", "been", "call", "now", "find",
	"long", "down", "day", "did", "get", "come", "made", "may", "part",
)

func buildStopwords(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}

	return m
}

// MinTermLen is the minimum casefolded token length indexed, per
// indexing.
const MinTermLen = 2

// Tokenize splits text on Unicode letter/number boundaries, casefolds
// it, and drops stopwords and tokens shorter than MinTermLen, per
// casefolded, stopword-filtered, minimum length applied.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))

	for _, f := range fields {
		t := strings.ToLower(f)

		if len([]rune(t)) < MinTermLen || Stopwords[t] {
			continue
		}

		tokens = append(tokens, t)
	}

	return tokens
}

// TermFreqs counts occurrences of each token in text after Tokenize.
func TermFreqs(text string) map[string]int {
	tf := make(map[string]int)

	for _, t := range Tokenize(text) {
		tf[t]++
	}

	return tf
}
