// Package tokenize splits code and prose into lowercase search terms.
//
// Identifiers are broken on case changes and underscores so that
// "ValidateToken" and "validate_token" both yield "validate" and "token".
package tokenize

import (
	"strings"
	"unicode"
)

// MinTokenLen is the shortest token kept
const MinTokenLen = 2

// Tokens returns the lowercase terms of text in order, duplicates included.
// The whole identifier is kept alongside its parts.
func Tokens(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var tokens []string
	for _, w := range words {
		parts := splitIdentifier(w)
		if len(parts) > 1 {
			if whole := strings.ToLower(strings.Trim(w, "_")); len(whole) >= MinTokenLen {
				tokens = append(tokens, whole)
			}
		}
		for _, p := range parts {
			if len(p) >= MinTokenLen {
				tokens = append(tokens, strings.ToLower(p))
			}
		}
	}
	return tokens
}

// Unique returns the distinct terms of text in first-seen order
func Unique(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokens(text) {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// splitIdentifier breaks snake_case and camelCase words.
// An uppercase run followed by a lowercase letter starts a new part at its last
// letter, so "HTTPServer" becomes "HTTP" and "Server".
func splitIdentifier(word string) []string {
	var parts []string
	for _, seg := range strings.Split(word, "_") {
		if seg == "" {
			continue
		}
		runes := []rune(seg)
		start := 0
		for i := 1; i < len(runes); i++ {
			prev, cur := runes[i-1], runes[i]
			boundary := unicode.IsLower(prev) && unicode.IsUpper(cur) ||
				unicode.IsLetter(prev) != unicode.IsLetter(cur) ||
				unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if boundary {
				parts = append(parts, string(runes[start:i]))
				start = i
			}
		}
		parts = append(parts, string(runes[start:]))
	}
	return parts
}
