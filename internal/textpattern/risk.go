package textpattern

import "regexp"

// Risk factor keys, used as questionnaire items by the risk scorer.
const (
	RiskPrematurity     = "prematurity"
	RiskLowBirthWeight  = "low_birth_weight"
	RiskNICUStay        = "nicu_stay"
	RiskHouseholdSmoke  = "household_smoking"
	RiskConsanguinity   = "consanguinity"
	RiskFamilyHistoryDD = "family_history_developmental"
)

type riskPattern struct {
	key      string
	positive *regexp.Regexp
	negative *regexp.Regexp
}

var riskPatterns = []riskPattern{
	{RiskPrematurity, regexp.MustCompile(`prematur|preterm|erken dogum`), regexp.MustCompile(`prematur(e)? (degil|yok)|erken dogum yok|zamaninda dogum|miadinda`)},
	{RiskLowBirthWeight, regexp.MustCompile(`dusuk dogum agirlig|dda\b|lbw`), regexp.MustCompile(`dusuk dogum agirligi yok`)},
	{RiskNICUStay, regexp.MustCompile(`yogun bakim|nicu|kuvoz`), regexp.MustCompile(`yogun bakim (yatisi )?yok|yogun bakima yatmadi`)},
	{RiskHouseholdSmoke, regexp.MustCompile(`sigara (iciyor|kullaniyor|var|maruziyeti)|evde sigara`), regexp.MustCompile(`sigara (yok|icmiyor|kullanmiyor)|sigara maruziyeti yok`)},
	{RiskConsanguinity, regexp.MustCompile(`akraba evliligi( var)?|anne baba akraba`), regexp.MustCompile(`akraba evliligi yok|akraba degil`)},
	{RiskFamilyHistoryDD, regexp.MustCompile(`(ailede|kardesinde|kardesi) (otizm|gelisim geriligi|konusma gecikmesi)`), regexp.MustCompile(`ailede (otizm|gelisim geriligi) yok`)},
}

// RiskKeys lists every risk factor the extractor can report.
func RiskKeys() []string {
	out := make([]string, 0, len(riskPatterns))
	for _, p := range riskPatterns {
		out = append(out, p.key)
	}
	return out
}

// RiskFactors returns the risk factors stated in text: true when asserted, false when
// explicitly denied. Factors not mentioned are absent from the map.
func RiskFactors(text string) map[string]bool {
	f := Fold(text)
	out := map[string]bool{}
	for _, p := range riskPatterns {
		switch {
		case p.negative.MatchString(f):
			out[p.key] = false
		case p.positive.MatchString(f):
			out[p.key] = true
		}
	}
	return out
}
