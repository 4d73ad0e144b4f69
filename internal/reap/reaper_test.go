package reap

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/clock"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/infra/docstore/memory"
	"clinicsync/pkg/domain"
)

func seed(t *testing.T, store core.Store, collection string, docs map[string]map[string]any) {
	t.Helper()
	ops := make([]core.Op, 0, len(docs))
	for id, data := range docs {
		ops = append(ops, core.Op{Kind: core.OpSet, Collection: collection, ID: id, Data: data})
	}
	for start := 0; start < len(ops); start += core.MaxBatch {
		end := start + core.MaxBatch
		if end > len(ops) {
			end = len(ops)
		}
		if _, err := store.Commit(context.Background(), ops[start:end]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestReapKeepsOldest(t *testing.T) {
	clk := clock.NewFixed(time.Date(2024, 8, 15, 3, 0, 0, 0, time.UTC))
	store := memory.New(clk)
	for _, id := range []string{"c", "a", "b"} {
		seed(t, store, domain.CollectionAppointments, map[string]map[string]any{
			id: {"patientId": "patient_1", "date": "2024-08-20"},
		})
		clk.Advance(time.Minute)
	}
	seed(t, store, domain.CollectionAppointments, map[string]map[string]any{
		"other": {"patientId": "patient_2", "date": "2024-08-20"},
	})

	res, err := New(store, zerolog.Nop(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Removed[domain.CollectionAppointments] != 2 {
		t.Fatalf("removed = %v", res.Removed)
	}
	if _, err := store.Get(context.Background(), domain.CollectionAppointments, "c"); err != nil {
		t.Fatalf("oldest document should survive: %v", err)
	}
	if store.Count(domain.CollectionAppointments) != 2 {
		t.Fatalf("remaining = %d", store.Count(domain.CollectionAppointments))
	}
}

func TestReapCapsDeletionsPerRun(t *testing.T) {
	store := memory.New(clock.NewFixed(time.Date(2024, 8, 15, 3, 0, 0, 0, time.UTC)))
	docs := make(map[string]map[string]any, 601)
	for i := 0; i < 601; i++ {
		docs[fmt.Sprintf("hr_%04d", i)] = map[string]any{"protocolNo": "P-1"}
	}
	seed(t, store, domain.CollectionHealthRecords, docs)

	r := New(store, zerolog.Nop(), nil, NaturalKey{Collection: domain.CollectionHealthRecords, Fields: []string{"protocolNo"}})
	for i, want := range []int{500, 100, 0} {
		res, err := r.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got := res.Total(); got != want {
			t.Fatalf("run %d removed %d, want %d", i, got, want)
		}
	}
	if _, err := store.Get(context.Background(), domain.CollectionHealthRecords, "hr_0000"); err != nil {
		t.Fatalf("tie on createdAt should keep the lowest id: %v", err)
	}
}

func TestDuplicatesSkipsIncompleteKeys(t *testing.T) {
	docs := []core.Document{
		{ID: "1", Data: map[string]any{"patientId": "p", "visitType": "six_month", "scheduledDate": "2024-07-01"}},
		{ID: "2", Data: map[string]any{"patientId": "p", "visitType": "six_month"}},
		{ID: "3", Data: map[string]any{"patientId": "p", "visitType": "six_month", "scheduledDate": "2024-07-01"}},
		{ID: "4", Data: map[string]any{"patientId": "p", "visitType": "six_month", "scheduledDate": ""}},
	}
	got := Duplicates(docs, NaturalKey{Collection: domain.CollectionBFVisits, Fields: []string{"patientId", "visitType", "scheduledDate"}})
	if len(got) != 1 || got[0] != "3" {
		t.Fatalf("duplicates = %v", got)
	}
}

type brokenStore struct{ *memory.Store }

func (brokenStore) Query(context.Context, string, core.Query) ([]core.Document, error) {
	return nil, errors.New("unavailable")
}

func TestReapErrorsAreNonFatal(t *testing.T) {
	store := brokenStore{memory.New(nil)}
	res, err := New(store, zerolog.Nop(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Errors) != len(DefaultKeys()) {
		t.Fatalf("errors = %v", res.Errors)
	}
	if domain.IsFatal(res.Errors[0]) {
		t.Fatalf("reaper errors must not be fatal")
	}
}
