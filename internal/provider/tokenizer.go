package provider

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches alphanumeric sequences (including underscores for initial split).
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// minTokenLength drops one-letter tokens.
const minTokenLength = 2

// stopWords are keywords and filler names that carry no search value.
var stopWords = buildStopWordMap([]string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
})

// TokenizeCode splits text with code-aware rules: camelCase, PascalCase
// and snake_case identifiers are broken into words, all lowercased.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range SplitCodeToken(word) {
			lower := strings.ToLower(t)
			if len(lower) >= minTokenLength {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// SplitCodeToken splits camelCase and snake_case identifiers.
func SplitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
// Examples:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "HTTPHandler" -> ["HTTP", "Handler"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split on a lower-to-upper edge or at the end of an acronym.
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

func isStopWord(term string) bool {
	_, ok := stopWords[strings.ToLower(term)]
	return ok
}
