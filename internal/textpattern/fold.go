package textpattern

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases with Turkish casing and strips diacritics so keyword tables can be
// written in plain ASCII: "ŞİKAYETİ Öksürük" → "sikayeti oksuruk".
func Fold(s string) string {
	s = strings.ToLowerSpecial(unicode.TurkishCase, s)
	s = strings.ReplaceAll(s, "ı", "i")
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
