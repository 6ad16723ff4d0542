package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize reduces a word to the canonical form used in every storage key:
// NFKC normalize, decompose combining marks and drop them, lower-case, then
// keep only [a-z0-9'].
func Normalize(word string) string {
	decomposed := norm.NFKD.String(word)

	var withoutMarks strings.Builder
	withoutMarks.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		withoutMarks.WriteRune(r)
	}

	lowered := strings.ToLower(norm.NFKC.String(withoutMarks.String()))

	var out strings.Builder
	out.Grow(len(lowered))
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '\'' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

// SafeWord reduces a word to an alphanumeric-only form capped at 20
// characters, used for audio blob keys.
func SafeWord(word string) string {
	var out strings.Builder
	for _, r := range strings.ToLower(word) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		}
		if out.Len() >= 20 {
			break
		}
	}
	return out.String()
}
