// Package textnorm normalizes free text for matching and cache keys.
package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinTokenLen is the shortest token, in runes, that takes part in matching.
const MinTokenLen = 2

var markupRegex = regexp.MustCompile(`<[^>]*>`)

// Normalize lowercases s, strips HTML-like markup and collapses whitespace.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = markupRegex.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokens returns the whitespace tokens of Normalize(s) that are at least
// MinTokenLen runes long, in order, without duplicates.
func Tokens(s string) []string {
	fields := strings.Fields(Normalize(s))
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < MinTokenLen {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Key returns the cache key for a free-text query.
func Key(s string) string { return Normalize(s) }
