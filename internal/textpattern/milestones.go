package textpattern

import "regexp"

// MilestoneMention is a developmental milestone stated in a note.
type MilestoneMention struct {
	ID       string
	Achieved bool
	Evidence string
}

type milestonePattern struct {
	id       string
	positive *regexp.Regexp
	negative *regexp.Regexp
}

// Milestone IDs recognised in notes. They match the milestone catalog keys.
const (
	MilestoneSocialSmile     = "social_smile"
	MilestoneEyeContact      = "eye_contact"
	MilestoneHeadControl     = "head_control"
	MilestoneCoos            = "coos"
	MilestoneRollsOver       = "rolls_over"
	MilestoneSitsUnsupported = "sits_without_support"
	MilestoneRespondsToName  = "responds_to_name"
	MilestoneCrawls          = "crawls"
	MilestoneFirstWords      = "first_words"
	MilestoneWalks           = "walks_independently"
	MilestonePoints          = "points_to_show"
	MilestoneTwoWordPhrases  = "two_word_phrases"
	MilestoneClimbsStairs    = "climbs_stairs"
	MilestoneToiletTrained   = "toilet_trained"
)

// Patterns run against folded text. Negated Turkish verb forms (-miyor, -amiyor, yok) are
// checked before the affirmative ones.
var milestonePatterns = []milestonePattern{
	{MilestoneSocialSmile, regexp.MustCompile(`sosyal gulumseme(si)? (var|mevcut)|gulumsuyor`), regexp.MustCompile(`sosyal gulumseme(si)? yok|gulumsemiyor`)},
	{MilestoneEyeContact, regexp.MustCompile(`goz temasi (var|iyi|kuruyor|mevcut)`), regexp.MustCompile(`goz temasi (yok|zayif|kurmuyor|kuramiyor)`)},
	{MilestoneHeadControl, regexp.MustCompile(`bas kontrolu (var|tam|mevcut)|basini tutuyor`), regexp.MustCompile(`bas kontrolu yok|basini tutamiyor|basini tutmuyor`)},
	{MilestoneCoos, regexp.MustCompile(`aguluyor|agu(lama)? (var|mevcut)`), regexp.MustCompile(`agulamiyor|agu(lama)? yok`)},
	{MilestoneRollsOver, regexp.MustCompile(`(yuzustu|sirtustu)(ne)? donuyor|yuvarlaniyor`), regexp.MustCompile(`(yuzustu|sirtustu)(ne)? (donemiyor|donmuyor)|yuvarlanamiyor`)},
	{MilestoneSitsUnsupported, regexp.MustCompile(`desteksiz oturuyor|oturabiliyor`), regexp.MustCompile(`oturamiyor|desteksiz oturmuyor|oturmuyor`)},
	{MilestoneRespondsToName, regexp.MustCompile(`ismine (donuyor|bakiyor)|adiyla seslenince donuyor`), regexp.MustCompile(`ismine (donmuyor|bakmiyor)|adiyla seslenince donmuyor`)},
	{MilestoneCrawls, regexp.MustCompile(`emekliyor`), regexp.MustCompile(`emeklemiyor|emekleyemiyor`)},
	{MilestoneFirstWords, regexp.MustCompile(`konusuyor|kelime soyluyor|anne baba diyor`), regexp.MustCompile(`konusmuyor|konusamiyor|kelime (soylemiyor|yok)`)},
	{MilestoneWalks, regexp.MustCompile(`yuruyor|yurumeye basladi`), regexp.MustCompile(`yurumuyor|yuruyemiyor`)},
	{MilestonePoints, regexp.MustCompile(`isaret ediyor|parmakla gosteriyor`), regexp.MustCompile(`isaret etmiyor|isaret edemiyor|parmakla gostermiyor`)},
	{MilestoneTwoWordPhrases, regexp.MustCompile(`iki kelimelik cumle (kuruyor|var)`), regexp.MustCompile(`iki kelimelik cumle (kuramiyor|kurmuyor|yok)`)},
	{MilestoneClimbsStairs, regexp.MustCompile(`merdiven cikiyor`), regexp.MustCompile(`merdiven cikamiyor|merdiven cikmiyor`)},
	{MilestoneToiletTrained, regexp.MustCompile(`tuvalet egitimi (tamam|var|tamamlandi)`), regexp.MustCompile(`tuvalet egitimi (yok|tamamlanmadi)`)},
}

// MilestoneIDs lists every milestone that can be read from notes.
func MilestoneIDs() []string {
	out := make([]string, 0, len(milestonePatterns))
	for _, p := range milestonePatterns {
		out = append(out, p.id)
	}
	return out
}

// Milestones returns milestone statements found in text, one per milestone.
func Milestones(text string) []MilestoneMention {
	f := Fold(text)
	var out []MilestoneMention
	for _, p := range milestonePatterns {
		if m := p.negative.FindString(f); m != "" {
			out = append(out, MilestoneMention{ID: p.id, Achieved: false, Evidence: m})
			continue
		}
		if m := p.positive.FindString(f); m != "" {
			out = append(out, MilestoneMention{ID: p.id, Achieved: true, Evidence: m})
		}
	}
	return out
}
