// Package tokenizer turns field values into index terms. Text values are
// lower-cased and split on every rune that is neither a letter nor a digit;
// tag values are split on commas and normalised without further tokenisation.
package tokenizer

import (
	"strings"
	"unicode"
)

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into lowercased Tokens. Every word is kept; there is no
// stop-word list and no stemming.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(strings.ToLower(text), isSeparator)
	tokens := make([]Token, 0, len(words))
	for pos, word := range words {
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
	}
	return tokens
}

// Terms returns the distinct terms of text in first-occurrence order.
func Terms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok.Term]; dup {
			continue
		}
		seen[tok.Term] = struct{}{}
		terms = append(terms, tok.Term)
	}
	return terms
}

// Tags splits a comma-delimited tag value into distinct, trimmed, lowercased
// values. Empty entries are dropped.
func Tags(value string) []string {
	parts := strings.Split(value, ",")
	seen := make(map[string]struct{}, len(parts))
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		tag := NormalizeTag(p)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// NormalizeTag trims and lower-cases a single tag value.
func NormalizeTag(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
