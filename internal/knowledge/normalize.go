package knowledge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// diacriticStripper decomposes runes and drops their combining marks,
// folding "señal" to "senal" and "qué" to "que".
var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize folds an utterance into the knowledge-store lookup key:
// lower case, diacritics stripped, punctuation removed, whitespace collapsed.
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.ToLower(s)
	if folded, _, err := transform.String(diacriticStripper, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			lastSpace = true
		}
		// Punctuation and symbols are dropped.
	}
	return strings.TrimSpace(b.String())
}
