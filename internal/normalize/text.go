package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics maps "Rosseau Côte" to "Rosseau Cote".
// transform.Chain is stateful, so a fresh chain is built per call.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// cleanText folds, lowercases, drops apostrophes, turns every other
// non-alphanumeric rune into a space and collapses whitespace.
func cleanText(s string) string {
	s = strings.ToLower(foldDiacritics(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\'' || r == '’':
			// "o'brien" -> "obrien"
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// collapseSpace trims and collapses internal whitespace.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
