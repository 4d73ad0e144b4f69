package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinicsync/internal/clock"
	"clinicsync/internal/docstore/core"
)

func TestCommitStampsAndMerges(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC))
	s := New(clk)

	res, err := s.Commit(ctx, []core.Op{{
		Collection: "users", ID: "user_1",
		Data:  map[string]any{"name": "Ayşe", "children": []string{"patient_1"}},
		Merge: true,
	}})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !res[0].Created {
		t.Fatalf("expected created result")
	}

	clk.Advance(time.Hour)
	res, err = s.Commit(ctx, []core.Op{{
		Collection: "users", ID: "user_1",
		Data:  map[string]any{"phone": "+905321234567"},
		Merge: true,
		Union: map[string][]any{"children": {"patient_2", "patient_1"}},
	}})
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if res[0].Created {
		t.Fatalf("expected update result")
	}

	doc, err := s.Get(ctx, "users", "user_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data["name"] != "Ayşe" || doc.Data["phone"] != "+905321234567" {
		t.Fatalf("merge lost fields: %+v", doc.Data)
	}
	children, _ := doc.Data["children"].([]any)
	if len(children) != 2 || children[0] != "patient_1" || children[1] != "patient_2" {
		t.Fatalf("unexpected children %v", children)
	}
	if !doc.UpdatedAt.After(doc.CreatedAt) {
		t.Fatalf("expected updatedAt after createdAt: %v %v", doc.CreatedAt, doc.UpdatedAt)
	}
}

func TestCommitWithoutMergeReplaces(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if _, err := s.Commit(ctx, []core.Op{{Collection: "c", ID: "a", Data: map[string]any{"x": 1, "y": 2}}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := s.Commit(ctx, []core.Op{{Collection: "c", ID: "a", Data: map[string]any{"x": 3}}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	doc, _ := s.Get(ctx, "c", "a")
	if _, ok := doc.Data["y"]; ok {
		t.Fatalf("expected y to be replaced away, got %+v", doc.Data)
	}
	if doc.Data["x"] != float64(3) {
		t.Fatalf("expected x=3, got %v", doc.Data["x"])
	}
}

func TestCommitGeneratesIDsAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	res, err := s.Commit(ctx, []core.Op{{Collection: "c", Data: map[string]any{"v": "a"}}})
	if err != nil || res[0].ID == "" {
		t.Fatalf("expected generated id, got %+v err=%v", res, err)
	}
	res, err = s.Commit(ctx, []core.Op{
		{Kind: core.OpDelete, Collection: "c", ID: res[0].ID},
		{Kind: core.OpDelete, Collection: "c", ID: "missing"},
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !res[0].Deleted || res[1].Deleted {
		t.Fatalf("unexpected delete results %+v", res)
	}
	if s.Count("c") != 0 {
		t.Fatalf("expected empty collection")
	}
	if _, err := s.Get(ctx, "c", "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitRejectsOversizedAndInvalidBatches(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	ops := make([]core.Op, core.MaxBatch+1)
	for i := range ops {
		ops[i] = core.Op{Collection: "c", ID: "x"}
	}
	if _, err := s.Commit(ctx, ops); !errors.Is(err, core.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	_, err := s.Commit(ctx, []core.Op{
		{Collection: "c", ID: "ok", Data: map[string]any{"v": 1}},
		{Collection: "", ID: "bad"},
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if s.Count("c") != 0 {
		t.Fatalf("failed batch must not apply partially")
	}
}

func TestQueryFiltersOrdersAndLimits(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(clk)
	for _, id := range []string{"c", "a", "b", "d"} {
		kind := "growth"
		if id == "d" {
			kind = "other"
		}
		if _, err := s.Commit(ctx, []core.Op{{Collection: "records", ID: id, Data: map[string]any{"kind": kind, "patientId": "p1"}}}); err != nil {
			t.Fatalf("commit: %v", err)
		}
		clk.Advance(time.Minute)
	}

	docs, err := s.Query(ctx, "records", core.Query{
		Where:   []core.Filter{{Field: "kind", Op: core.OpEqual, Value: "growth"}},
		OrderBy: core.FieldCreatedAt,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := ids(docs)
	if got != "c,a,b" {
		t.Fatalf("expected creation order c,a,b got %s", got)
	}

	docs, _ = s.Query(ctx, "records", core.Query{
		Where:   []core.Filter{{Field: "id", Op: core.OpIn, Value: []string{"a", "d"}}},
		OrderBy: core.FieldID,
		Desc:    true,
		Limit:   1,
	})
	if ids(docs) != "d" {
		t.Fatalf("expected d, got %s", ids(docs))
	}
}

func ids(docs []core.Document) string {
	out := ""
	for i, d := range docs {
		if i > 0 {
			out += ","
		}
		out += d.ID
	}
	return out
}
