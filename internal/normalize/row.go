package normalize

import (
	"strconv"
	"strings"
	"time"

	"clinicsync/pkg/domain"
)

// Row reads normalized values from one SourceRecord, collecting a NormalizationError for
// every non-empty value that had to be nulled.
type Row struct {
	Record domain.SourceRecord
	Issues []domain.NormalizationError
}

// NewRow wraps rec.
func NewRow(rec domain.SourceRecord) *Row {
	return &Row{Record: rec}
}

func (r *Row) fail(col, val, reason string) {
	r.Issues = append(r.Issues, domain.NormalizationError{Field: col, Value: val, Reason: reason})
}

// Text returns the trimmed raw value.
func (r *Row) Text(col string) string { return r.Record.Field(col) }

// Phone normalizes a phone column.
func (r *Row) Phone(col string) string {
	raw := r.Text(col)
	p := Phone(raw)
	if raw != "" && p == "" {
		r.fail(col, raw, "unresolvable phone")
	}
	return p
}

// Date parses a date column.
func (r *Row) Date(col string) *time.Time {
	raw := r.Text(col)
	t := Date(raw)
	if raw != "" && t == nil {
		r.fail(col, raw, "unrecognized date")
	}
	return t
}

// DateTime combines a date column with an optional "HH:MM" time column.
func (r *Row) DateTime(dateCol, timeCol string) *time.Time {
	d := r.Date(dateCol)
	if d == nil || timeCol == "" {
		return d
	}
	raw := r.Text(timeCol)
	if raw == "" {
		return d
	}
	for _, layout := range []string{"15:04", "15:04:05", "3:04 PM", "03:04 PM"} {
		if tod, err := time.Parse(layout, strings.ToUpper(raw)); err == nil {
			out := time.Date(d.Year(), d.Month(), d.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC)
			return &out
		}
	}
	r.fail(timeCol, raw, "unrecognized time")
	return d
}

// NationalID validates an identity-number column.
func (r *Row) NationalID(col string) string {
	raw := r.Text(col)
	id := NationalID(raw)
	if raw != "" && id == "" {
		r.fail(col, raw, "not an 11-digit national id")
	}
	return id
}

// Decimal parses a decimal column; nil on failure.
func (r *Row) Decimal(col string) *float64 {
	raw := r.Text(col)
	if raw == "" {
		return nil
	}
	v, ok := Decimal(raw)
	if !ok {
		r.fail(col, raw, "not a decimal")
		return nil
	}
	return &v
}

// Int parses an integer column, accepting a float-coerced ".0" suffix.
func (r *Row) Int(col string) (int, bool) {
	raw := strings.TrimSuffix(r.Text(col), ".0")
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(col, raw, "not an integer")
		return 0, false
	}
	return v, true
}

// Gender maps a gender column.
func (r *Row) Gender(col string) domain.Gender { return Gender(r.Text(col)) }

// List splits a comma-separated column.
func (r *Row) List(col string) []string { return List(r.Text(col)) }

// Email lowercases an address, dropping values without "@".
func (r *Row) Email(col string) string {
	raw := r.Text(col)
	if raw == "" {
		return ""
	}
	e := strings.ToLower(raw)
	if !strings.Contains(e, "@") || strings.ContainsAny(e, " ;") {
		r.fail(col, raw, "not an email address")
		return ""
	}
	return e
}
