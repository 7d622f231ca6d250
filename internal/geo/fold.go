package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold reduces place-name text to its comparison form: Turkish-aware lower
// casing (İ→i, I→ı), dotless ı folded to i, diacritics stripped, and every run
// of non-alphanumerics collapsed to a single space.
//
// "İSTANBUL", "Istanbul", "istanbul" and "ISTANBUL" all fold to "istanbul";
// "Çankaya" and "CANKAYA" both fold to "cankaya".
func Fold(s string) string {
	// Casers and transformer chains carry state and are not safe for
	// concurrent use, so both are built per call.
	lowered := cases.Lower(language.Turkish).String(s)
	lowered = strings.ReplaceAll(lowered, "ı", "i")

	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		stripped = lowered
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
