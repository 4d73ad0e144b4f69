// Package normalize canonicalizes raw source fields (phones, dates, national
// IDs, decimals, genders, lists) and maps rows onto typed domain records.
package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"clinicsync/pkg/domain"
)

const turkeyCode = "90"

// Phone returns the E.164 form of raw, or "" when it cannot be resolved.
func Phone(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		plus = true
	}
	// "+90+90..." and "9090..." both collapse to one country code.
	if strings.HasPrefix(digits, turkeyCode+turkeyCode) && len(digits) == 14 {
		digits = digits[2:]
	}
	// "+90 0532..." keeps the national trunk zero after the country code.
	if strings.HasPrefix(digits, turkeyCode+"0") && len(digits) == 13 {
		digits = turkeyCode + digits[3:]
	}
	switch {
	case len(digits) == 10 && digits[0] == '5':
		return "+" + turkeyCode + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "05"):
		return "+" + turkeyCode + digits[1:]
	case len(digits) == 12 && strings.HasPrefix(digits, turkeyCode):
		return "+" + digits
	case plus && len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits
	}
	return ""
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	time.RFC3339,
}

// Date parses raw with the known source layouts; nil when none applies.
func Date(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	if allDigits(s) {
		switch {
		case len(s) == 8:
			if t, err := time.ParseInLocation("02012006", s, time.UTC); err == nil {
				return &t
			}
		case len(s) >= 11:
			ms, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				t := time.UnixMilli(ms).UTC()
				return &t
			}
		}
	}
	return nil
}

// NationalID keeps an 11-digit Turkish identity number, undoing float coercion ("12345678901.0").
func NationalID(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".0")
	if len(s) != 11 || !allDigits(s) {
		return ""
	}
	return s
}

// Decimal parses a number written with a Turkish decimal comma. Dots before a comma are
// thousands separators.
func Decimal(raw string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if s == "" {
		return 0, false
	}
	if i := strings.LastIndex(s, ","); i >= 0 && strings.Contains(s[:i], ".") {
		s = strings.ReplaceAll(s, ".", "")
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var genderLexemes = map[string]domain.Gender{
	"e":      domain.GenderMale,
	"erkek":  domain.GenderMale,
	"bay":    domain.GenderMale,
	"m":      domain.GenderMale,
	"male":   domain.GenderMale,
	"boy":    domain.GenderMale,
	"k":      domain.GenderFemale,
	"kadın":  domain.GenderFemale,
	"kadin":  domain.GenderFemale,
	"kız":    domain.GenderFemale,
	"kiz":    domain.GenderFemale,
	"bayan":  domain.GenderFemale,
	"f":      domain.GenderFemale,
	"female": domain.GenderFemale,
	"girl":   domain.GenderFemale,
}

// Gender maps Turkish and English lexemes onto the canonical genders.
func Gender(raw string) domain.Gender {
	if g, ok := genderLexemes[Lower(strings.TrimSpace(raw))]; ok {
		return g
	}
	return domain.GenderUnknown
}

// List splits a comma-separated field, trimming items and dropping empties.
func List(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Lower lowercases with Turkish casing for dotted and dotless I.
func Lower(s string) string {
	return strings.ToLowerSpecial(unicode.TurkishCase, s)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
