package textpattern

import (
	"regexp"
	"strings"
)

// Delivery keywords such as "normal" only describe a birth when the note talks about one.
var birthContext = regexp.MustCompile(`dogum|dogdu|dogmus|sezaryen|sezeryan|c/s|nsvd|cesarean`)

// Facts is everything the extractor could read from one set of notes.
type Facts struct {
	Growth              Growth
	GestationalAgeWeeks *float64
	DeliveryType        string
	Vaccines            []VaccineMention
	Screenings          []string
	Milestones          []MilestoneMention
	RiskFactors         map[string]bool
}

// Extract runs every pattern over text.
func Extract(text string) Facts {
	delivery := ""
	if birthContext.MatchString(Fold(text)) {
		delivery = DeliveryType(text)
	}
	return Facts{
		Growth:              ExtractGrowth(text),
		GestationalAgeWeeks: GestationalAge(text),
		DeliveryType:        delivery,
		Vaccines:            Vaccines(text),
		Screenings:          Screenings(text),
		Milestones:          Milestones(text),
		RiskFactors:         RiskFactors(text),
	}
}

// ExtractFields joins the named fields of a note, in order, and extracts from the result.
func ExtractFields(fields map[string]string, order []string) Facts {
	parts := make([]string, 0, len(order))
	for _, name := range order {
		if v := strings.TrimSpace(fields[name]); v != "" {
			parts = append(parts, v)
		}
	}
	return Extract(strings.Join(parts, "\n"))
}
