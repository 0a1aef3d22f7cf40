// Package normalize provides deterministic text canonicalization for titles.
package normalize

import (
	"strings"
	"unicode"
)

// Normalize produces the canonical form of a title: lower-cased, every rune
// that is not a letter, digit, or whitespace replaced with a space, whitespace
// runs collapsed, trimmed. Normalize is idempotent.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeBulk is the batch-clustering variant: Normalize plus removal of
// standalone numeral tokens ("Project 12" and "Project 47" cluster together).
// Never used for the persisted normalized_title.
func NormalizeBulk(s string) string {
	fields := strings.Fields(Normalize(s))
	kept := fields[:0]
	for _, f := range fields {
		if !isNumeric(f) {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
