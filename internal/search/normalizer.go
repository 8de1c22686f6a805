// Package search implements the full-text subsystem: text normalization,
// an inverted index over message content and thinking text, field-weighted
// ranking, snippet extraction, and the coordinator tying them together.
package search

import (
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"
)

// Token is one normalized term. Position is the word's index in the raw
// tokenized text (stop words keep their slot so snippet extraction can map
// positions back to words).
type Token struct {
	Stem     string
	Position int
}

// stopWords are too common to discriminate between documents.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "have": {}, "i": {},
	"if": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"with": {},
}

// Analyze maps raw text into (stem, position) pairs: split on word
// boundaries, lowercase, drop stop words, Snowball-stem the rest.
// Deterministic; empty input yields an empty sequence.
func Analyze(text string) []Token {
	words := SplitWords(text)
	tokens := make([]Token, 0, len(words))
	for i, word := range words {
		lower := strings.ToLower(word)
		if _, ok := stopWords[lower]; ok {
			continue
		}
		stem := snowballeng.Stem(lower, false)
		if stem == "" {
			continue
		}
		tokens = append(tokens, Token{Stem: stem, Position: i})
	}
	return tokens
}

// AnalyzeQuery returns the deduplicated stems of a query, in first-seen
// order.
func AnalyzeQuery(query string) []string {
	seen := make(map[string]struct{})
	var stems []string
	for _, tok := range Analyze(query) {
		if _, ok := seen[tok.Stem]; ok {
			continue
		}
		seen[tok.Stem] = struct{}{}
		stems = append(stems, tok.Stem)
	}
	return stems
}

// SplitWords splits text into words on any non-letter, non-digit boundary.
// Both the indexing and snippet paths use this so word positions line up.
func SplitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
