package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Normalize round-trips data through JSON so every driver stores and compares the same
// representation (numbers as float64, times as RFC 3339 strings).
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	delete(out, FieldCreatedAt)
	delete(out, FieldUpdatedAt)
	return out, nil
}

// NormalizeValue applies the same JSON representation to a filter value.
func NormalizeValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// Apply computes the stored data after op is applied to existing (nil when absent).
func Apply(existing map[string]any, op Op) (map[string]any, error) {
	incoming, err := Normalize(op.Data)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if op.Merge {
		for k, v := range existing {
			out[k] = v
		}
	}
	for k, v := range incoming {
		out[k] = v
	}
	for field, values := range op.Union {
		var current []any
		if arr, ok := out[field].([]any); ok {
			current = arr
		} else if arr, ok := existing[field].([]any); ok {
			current = arr
		}
		out[field] = union(current, values)
	}
	return out, nil
}

func union(current []any, add []any) []any {
	out := append([]any(nil), current...)
	for _, v := range add {
		nv := NormalizeValue(v)
		found := false
		for _, c := range out {
			if equal(c, nv) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, nv)
		}
	}
	return out
}

// Match reports whether doc satisfies every filter.
func Match(doc Document, filters []Filter) bool {
	for _, f := range filters {
		got := Field(doc, f.Field)
		switch f.Op {
		case OpEqual, "":
			if !equal(got, NormalizeValue(f.Value)) {
				return false
			}
		case OpIn:
			list, ok := NormalizeValue(f.Value).([]any)
			if !ok {
				return false
			}
			hit := false
			for _, candidate := range list {
				if equal(got, candidate) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Field reads a top-level field, including the reserved id and timestamps.
func Field(doc Document, name string) any {
	switch name {
	case FieldID:
		return doc.ID
	case FieldCreatedAt:
		return doc.CreatedAt
	case FieldUpdatedAt:
		return doc.UpdatedAt
	}
	return doc.Data[name]
}

func equal(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Select filters, orders and limits docs in place according to q.
func Select(docs []Document, q Query) []Document {
	out := docs[:0]
	for _, d := range docs {
		if Match(d, q.Where) {
			out = append(out, d)
		}
	}
	Sort(out, q.OrderBy, q.Desc)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Sort orders docs by field, breaking ties by ID so results are stable across drivers.
func Sort(docs []Document, field string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		if field != "" {
			c := compare(Field(docs[i], field), Field(docs[j], field))
			if c != 0 {
				if desc {
					return c > 0
				}
				return c < 0
			}
		}
		if desc && field == "" {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].ID < docs[j].ID
	})
}

func compare(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	if a == nil && b != nil {
		return 1
	}
	if b == nil && a != nil {
		return -1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// FormatTime renders timestamps in a fixed-width, lexically sortable UTC form.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// ParseTime reverses FormatTime (and accepts any RFC 3339 value).
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
