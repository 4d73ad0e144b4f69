package core

import (
	"testing"
	"time"
)

func TestApplyUnionKeepsOrderAndDeduplicates(t *testing.T) {
	existing := map[string]any{"children": []any{"patient_1"}, "name": "Ayşe"}
	out, err := Apply(existing, Op{
		Data:  map[string]any{"phone": "+905321234567"},
		Merge: true,
		Union: map[string][]any{"children": {"patient_1", "patient_2"}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	children := out["children"].([]any)
	if len(children) != 2 || children[1] != "patient_2" {
		t.Fatalf("unexpected children %v", children)
	}
	if out["name"] != "Ayşe" {
		t.Fatalf("merge dropped name")
	}
}

func TestNormalizeDropsReservedFields(t *testing.T) {
	out, err := Normalize(map[string]any{"createdAt": time.Now(), "updatedAt": "x", "n": 1})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(out) != 1 || out["n"] != float64(1) {
		t.Fatalf("unexpected %v", out)
	}
}

func TestSelectOrdersByFieldThenID(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []Document{
		{ID: "c", CreatedAt: t0, Data: map[string]any{"k": "x"}},
		{ID: "a", CreatedAt: t0.Add(time.Second), Data: map[string]any{"k": "x"}},
		{ID: "b", CreatedAt: t0, Data: map[string]any{"k": "x"}},
		{ID: "d", CreatedAt: t0, Data: map[string]any{"k": "y"}},
	}
	got := Select(docs, Query{Where: []Filter{{Field: "k", Op: OpEqual, Value: "x"}}, OrderBy: FieldCreatedAt})
	if len(got) != 3 || got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestMatchNumbersAndIn(t *testing.T) {
	doc := Document{ID: "x", Data: map[string]any{"dose": float64(2), "code": "KKK"}}
	if !Match(doc, []Filter{{Field: "dose", Op: OpEqual, Value: 2}}) {
		t.Fatalf("expected numeric equality to match")
	}
	if !Match(doc, []Filter{{Field: "code", Op: OpIn, Value: []string{"HepB", "KKK"}}}) {
		t.Fatalf("expected in to match")
	}
	if Match(doc, []Filter{{Field: "code", Op: ">", Value: "A"}}) {
		t.Fatalf("unsupported operators never match")
	}
}

func TestFormatTimeIsSortable(t *testing.T) {
	a := FormatTime(time.Date(2024, 1, 1, 0, 0, 0, 5, time.UTC))
	b := FormatTime(time.Date(2024, 1, 1, 0, 0, 0, 40, time.UTC))
	if !(a < b) {
		t.Fatalf("expected %s < %s", a, b)
	}
	parsed, err := ParseTime(a)
	if err != nil || parsed.Nanosecond() != 5 {
		t.Fatalf("round trip failed: %v %v", parsed, err)
	}
}

func TestEncodeDecodeCarryReservedFields(t *testing.T) {
	type rec struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"createdAt"`
	}
	data, err := Encode(rec{ID: "x", Name: "Deniz", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != 1 || data["name"] != "Deniz" {
		t.Fatalf("expected only name, got %v", data)
	}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var out rec
	if err := Decode(Document{ID: "patient_1", Data: data, CreatedAt: created}, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != "patient_1" || out.Name != "Deniz" || !out.CreatedAt.Equal(created) {
		t.Fatalf("unexpected %+v", out)
	}
}
