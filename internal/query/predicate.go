// Package query evaluates field predicates against a built index. A query
// moves through three phases, each traced as a span: parse (pattern to
// Predicate), evaluate (Predicate to ordinals) and result (ordinals to
// sorted, paged documents).
package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/index/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
)

// Op is the kind of match a Predicate performs.
type Op int

const (
	OpAll Op = iota
	OpSubstring
	OpRegex
	OpFuzzy
	OpTag
)

func (o Op) String() string {
	switch o {
	case OpAll:
		return "all"
	case OpSubstring:
		return "substring"
	case OpRegex:
		return "regex"
	case OpFuzzy:
		return "fuzzy"
	case OpTag:
		return "tag"
	default:
		return "unknown"
	}
}

// MaxFuzzyDistance is the largest edit distance a fuzzy predicate may ask for.
const MaxFuzzyDistance = 3

// Predicate is a parsed, field-scoped match condition.
type Predicate struct {
	Field string
	Op    Op
	// Value is the pattern with delimiters stripped.
	Value string
	// Words are the lowercase words of a substring pattern; all must match.
	Words []string
	// Tags are the normalized alternatives of a tag predicate.
	Tags     []string
	Distance int

	re *regexp.Regexp
}

// All matches every document.
func All() Predicate {
	return Predicate{Op: OpAll}
}

// ParseText parses a text pattern:
//
//	/expr/     case-insensitive regular expression matched against each term
//	%word%     terms within edit distance 1 of word (%%word%% is 2, up to 3)
//	anything   every word must be a case-insensitive substring of some term
//
// Patterns longer than maxLen runes are rejected with ErrInvalidPattern.
func ParseText(field, pattern string, maxLen int) (Predicate, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Predicate{}, fmt.Errorf("%w: empty pattern", apperrors.ErrInvalidPattern)
	}
	if maxLen > 0 && utf8.RuneCountInString(pattern) > maxLen {
		return Predicate{}, fmt.Errorf("%w: pattern longer than %d characters", apperrors.ErrInvalidPattern, maxLen)
	}

	switch {
	case len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/"):
		expr := pattern[1 : len(pattern)-1]
		if expr == "" {
			return Predicate{}, fmt.Errorf("%w: empty regular expression", apperrors.ErrInvalidPattern)
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return Predicate{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidPattern, err)
		}
		return Predicate{Field: field, Op: OpRegex, Value: expr, re: re}, nil

	case strings.HasPrefix(pattern, "%") && strings.HasSuffix(pattern, "%"):
		lead := len(pattern) - len(strings.TrimLeft(pattern, "%"))
		trail := len(pattern) - len(strings.TrimRight(pattern, "%"))
		text := strings.Trim(pattern, "%")
		if text == "" {
			return Predicate{}, fmt.Errorf("%w: empty fuzzy term", apperrors.ErrInvalidPattern)
		}
		return ParseFuzzy(field, text, min(lead, trail))
	}

	return Predicate{
		Field: field,
		Op:    OpSubstring,
		Value: pattern,
		Words: tokenizer.Terms(pattern),
	}, nil
}

// ParseFuzzy builds a fuzzy predicate for a single word.
func ParseFuzzy(field, text string, distance int) (Predicate, error) {
	if distance < 1 || distance > MaxFuzzyDistance {
		return Predicate{}, fmt.Errorf("%w: fuzzy distance must be between 1 and %d", apperrors.ErrInvalidPattern, MaxFuzzyDistance)
	}
	words := tokenizer.Terms(text)
	if len(words) != 1 {
		return Predicate{}, fmt.Errorf("%w: fuzzy match takes a single word, got %q", apperrors.ErrInvalidPattern, text)
	}
	return Predicate{Field: field, Op: OpFuzzy, Value: words[0], Distance: distance}, nil
}

// ParseTag parses an exact tag value. Alternatives are separated by '|'.
func ParseTag(field, value string) (Predicate, error) {
	var tags []string
	seen := make(map[string]struct{})
	for _, alt := range strings.Split(value, "|") {
		tag := tokenizer.NormalizeTag(alt)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return Predicate{}, fmt.Errorf("%w: empty tag", apperrors.ErrInvalidPattern)
	}
	return Predicate{Field: field, Op: OpTag, Value: value, Tags: tags}, nil
}

// String renders the predicate in the pattern syntax, for logs and cache keys.
func (p Predicate) String() string {
	switch p.Op {
	case OpAll:
		return "*"
	case OpRegex:
		return fmt.Sprintf("@%s:/%s/", p.Field, p.Value)
	case OpFuzzy:
		pct := strings.Repeat("%", p.Distance)
		return fmt.Sprintf("@%s:%s%s%s", p.Field, pct, p.Value, pct)
	case OpTag:
		return fmt.Sprintf("@%s:{%s}", p.Field, strings.Join(p.Tags, "|"))
	default:
		return fmt.Sprintf("@%s:(%s)", p.Field, strings.Join(p.Words, " "))
	}
}

// scanLength is the pattern length used in the vocabulary scan cost.
func (p Predicate) scanLength() int {
	switch p.Op {
	case OpSubstring:
		n := 0
		for _, w := range p.Words {
			n += utf8.RuneCountInString(w)
		}
		return n
	default:
		return utf8.RuneCountInString(p.Value)
	}
}
