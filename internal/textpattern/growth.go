// Package textpattern pulls literal clinical facts out of Turkish free-text
// notes. It never infers: a value is returned only when its pattern matches.
package textpattern

import (
	"regexp"
	"strconv"
	"strings"

	"clinicsync/internal/normalize"
)

var (
	weightRe    = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(kg|gr|g)(?:$|[^\p{L}\d])`)
	cmRe        = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*cm(?:$|[^\p{L}\d])`)
	gestationRe = regexp.MustCompile(`(\d+)\+?(\d+)?\s*G[Hh]`)
)

// Growth is the anthropometry found in a note.
type Growth struct {
	WeightKg            *float64
	HeightCm            *float64
	HeadCircumferenceCm *float64
	BMI                 *float64
}

// Empty reports whether nothing was measured.
func (g Growth) Empty() bool {
	return g.WeightKg == nil && g.HeightCm == nil && g.HeadCircumferenceCm == nil
}

// ExtractGrowth reads weight (grams converted to kg), height (first cm value) and head
// circumference (third cm value, when at least three are present).
func ExtractGrowth(text string) Growth {
	var g Growth
	if m := weightRe.FindStringSubmatch(text); m != nil {
		if v, ok := normalize.Decimal(m[1]); ok {
			if unit := strings.ToLower(m[2]); unit == "g" || unit == "gr" {
				v = v / 1000
			}
			g.WeightKg = &v
		}
	}
	cms := cmRe.FindAllStringSubmatch(text, -1)
	if len(cms) > 0 {
		if v, ok := normalize.Decimal(cms[0][1]); ok {
			g.HeightCm = &v
		}
	}
	if len(cms) >= 3 {
		if v, ok := normalize.Decimal(cms[2][1]); ok {
			g.HeadCircumferenceCm = &v
		}
	}
	g.BMI = normalize.BMI(g.WeightKg, g.HeightCm)
	return g
}

// GestationalAge reads "38+2 GH" style notation as fractional weeks.
func GestationalAge(text string) *float64 {
	m := gestationRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	weeks, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	v := float64(weeks)
	if m[2] != "" {
		days, err := strconv.Atoi(m[2])
		if err != nil {
			return nil
		}
		v += float64(days) / 7
	}
	return &v
}

// Delivery types.
const (
	DeliveryCesarean = "cesarean"
	DeliveryVaginal  = "vaginal"
)

var (
	cesareanWords = []string{"c/s", "sezaryen", "sezeryan", "cesarean"}
	vaginalRe     = wordsRe("normal", "vajinal", "nsvd")
)

// DeliveryType classifies a birth description; "" when no keyword matches.
func DeliveryType(text string) string {
	f := Fold(text)
	for _, w := range cesareanWords {
		if strings.Contains(f, w) {
			return DeliveryCesarean
		}
	}
	if vaginalRe.MatchString(f) {
		return DeliveryVaginal
	}
	return ""
}

// wordsRe matches any of words as a whole word in folded text.
func wordsRe(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(^|[^a-z0-9])(` + strings.Join(quoted, "|") + `)($|[^a-z0-9])`)
}
