package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Words splits text into lower-cased, punctuation-trimmed words.
func Words(text string) []string {
	return split(text, false)
}

// Tokens is Words for comparison: a field made only of punctuation or
// symbols is kept as-is instead of dropped, so "..." still matches "...".
func Tokens(text string) []string {
	return split(text, true)
}

func split(text string, keepBare bool) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	// Casers carry state, so each call gets its own.
	lowered := cases.Lower(language.Und).String(norm.NFKC.String(text))
	fields := strings.Fields(lowered)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		word := strings.TrimFunc(field, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if word == "" {
			if !keepBare {
				continue
			}
			word = field
		}
		out = append(out, word)
	}
	return out
}

// WordCount returns len(Words(text)).
func WordCount(text string) int {
	return len(Words(text))
}

// LCSLength returns the length of the longest common subsequence of a and b.
func LCSLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) > len(a) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Ternary returns a when cond holds and b otherwise. Handy for decision log attrs.
func Ternary[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}
