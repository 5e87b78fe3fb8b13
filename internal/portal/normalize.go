package portal

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName folds a property display name for matching: diacritics
// removed, Spanish ordinal markers dropped, lowercased, whitespace
// collapsed. "Aribau 1º 2ª" and "aribau 1 2" normalize identically.
func NormalizeName(name string) string {
	folded, _, err := transform.String(diacriticStripper, name)
	if err != nil {
		folded = name
	}

	folded = strings.Map(func(r rune) rune {
		switch r {
		case 'º', 'ª', '°':
			return -1
		case ',', '.', '-', '/':
			return ' '
		}
		return unicode.ToLower(r)
	}, folded)

	return strings.Join(strings.Fields(folded), " ")
}

// NamesMatch reports whether a portal display name refers to the canonical
// property name, tolerating diacritics and minor variants in either
// direction.
func NamesMatch(canonical, display string) bool {
	a := NormalizeName(canonical)
	b := NormalizeName(display)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}
