package textutil

import (
	"strings"
	"unicode"
)

// SubjectToken makes value safe to use as one NATS subject token. Dots,
// wildcards, whitespace, and control characters become underscores. Case is
// preserved because subjects are case-sensitive.
func SubjectToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return '_'
		}
		return r
	}, value)
}
