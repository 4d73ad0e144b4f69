package textpattern

import (
	"regexp"
	"sort"
	"strconv"
)

// VaccineMention is a vaccine named in a note, with the dose when it is written next to it.
type VaccineMention struct {
	Code    string
	Keyword string
	Dose    int
}

type keyword struct {
	word string
	code string
}

// Vaccine keywords in folded form, longest first so combined vaccines win over their parts.
var vaccineKeywords = []keyword{
	{"dabt-ipa-hib", "DaBT-IPA-Hib"},
	{"besli karma", "DaBT-IPA-Hib"},
	{"5'li karma", "DaBT-IPA-Hib"},
	{"5li karma", "DaBT-IPA-Hib"},
	{"pentaxim", "DaBT-IPA-Hib"},
	{"dortlu karma", "DaBT-IPA"},
	{"4'lu karma", "DaBT-IPA"},
	{"4lu karma", "DaBT-IPA"},
	{"dabt-ipa", "DaBT-IPA"},
	{"konjuge pnomokok", "KPA"},
	{"pnomokok", "KPA"},
	{"prevenar", "KPA"},
	{"kpa", "KPA"},
	{"kizamik", "KKK"},
	{"kkk", "KKK"},
	{"mmr", "KKK"},
	{"hepatit b", "HepB"},
	{"hep b", "HepB"},
	{"hepb", "HepB"},
	{"hepatit a", "HepA"},
	{"hep a", "HepA"},
	{"hepa", "HepA"},
	{"oral polio", "OPA"},
	{"opa", "OPA"},
	{"sucicegi", "VAR"},
	{"varicella", "VAR"},
	{"verem", "BCG"},
	{"bcg", "BCG"},
	{"rotavirus", "ROTA"},
	{"rota", "ROTA"},
	{"grip asisi", "FLU"},
	{"influenza", "FLU"},
	{"td asisi", "Td"},
}

var doseRe = regexp.MustCompile(`^\W{0,3}(?:\(?\s*)(\d{1,2})\s*\.?\s*doz`)

// VaccineCodes lists the canonical codes the dictionary can produce.
func VaccineCodes() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range vaccineKeywords {
		if !seen[k.code] {
			seen[k.code] = true
			out = append(out, k.code)
		}
	}
	sort.Strings(out)
	return out
}

// CanonicalVaccine maps a free-form vaccine name (as in vaccination exports) to its code.
func CanonicalVaccine(name string) (string, bool) {
	ms := Vaccines(name)
	if len(ms) == 0 {
		return "", false
	}
	return ms[0].Code, true
}

// Vaccines finds vaccine mentions. Each code is reported once, at its first mention.
func Vaccines(text string) []VaccineMention {
	f := Fold(text)
	type span struct{ start, end int }
	var taken []span
	overlaps := func(a, b int) bool {
		for _, s := range taken {
			if a < s.end && b > s.start {
				return true
			}
		}
		return false
	}
	found := map[string]VaccineMention{}
	firstAt := map[string]int{}
	for _, k := range vaccineKeywords {
		for _, loc := range wordIndexes(f, k.word) {
			if overlaps(loc[0], loc[1]) {
				continue
			}
			taken = append(taken, span{loc[0], loc[1]})
			if at, ok := firstAt[k.code]; ok && at <= loc[0] {
				continue
			}
			m := VaccineMention{Code: k.code, Keyword: k.word}
			if d := doseRe.FindStringSubmatch(f[loc[1]:]); d != nil {
				m.Dose, _ = strconv.Atoi(d[1])
			}
			found[k.code] = m
			firstAt[k.code] = loc[0]
		}
	}
	out := make([]VaccineMention, 0, len(found))
	for _, m := range found {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return firstAt[out[i].Code] < firstAt[out[j].Code] })
	return out
}

// Screening tool names produced by mentions.
const (
	ScreeningMCHATR        = "M-CHAT-R"
	ScreeningASQ3          = "ASQ-3"
	ScreeningDevelopmental = "developmental"
)

var screeningPatterns = []struct {
	tool string
	re   *regexp.Regexp
}{
	{ScreeningMCHATR, regexp.MustCompile(`m-chat|mchat`)},
	{ScreeningASQ3, regexp.MustCompile(`\basq\b|ages and stages`)},
	{ScreeningDevelopmental, regexp.MustCompile(`gelisim|development`)},
}

// Screenings returns the screening tools mentioned, in a fixed order.
func Screenings(text string) []string {
	f := Fold(text)
	var out []string
	for _, p := range screeningPatterns {
		if p.re.MatchString(f) {
			out = append(out, p.tool)
		}
	}
	return out
}

func wordIndexes(folded, word string) [][]int {
	re := regexp.MustCompile(`(?:^|[^a-z0-9])(` + regexp.QuoteMeta(word) + `)(?:$|[^a-z0-9])`)
	var out [][]int
	for _, m := range re.FindAllStringSubmatchIndex(folded, -1) {
		out = append(out, []int{m[2], m[3]})
	}
	return out
}
