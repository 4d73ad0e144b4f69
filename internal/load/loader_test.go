package load

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/clock"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/infra/docstore/memory"
	"clinicsync/pkg/domain"
)

type failingStore struct {
	*memory.Store
	failOn int
	calls  int
}

func (s *failingStore) Commit(ctx context.Context, ops []core.Op) ([]core.OpResult, error) {
	s.calls++
	if s.calls == s.failOn {
		return nil, errors.New("deadline exceeded")
	}
	return s.Store.Commit(ctx, ops)
}

func newMemory() *memory.Store {
	return memory.New(clock.NewFixed(time.Date(2024, 8, 15, 3, 0, 0, 0, time.UTC)))
}

func TestBatchBoundary(t *testing.T) {
	store := newMemory()
	l := New(store, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 1001; i++ {
		doc := domain.Appointment{PatientID: fmt.Sprintf("patient_%d", i), Date: "2024-08-15"}
		if err := l.Upsert(ctx, domain.CollectionAppointments, "", doc, false); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if err := l.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got, want := l.Batches(), []int{500, 500, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("batches = %v, want %v", got, want)
	}
	if store.Commits() != 3 {
		t.Fatalf("store commits = %d", store.Commits())
	}
	if got := l.Counts(domain.CollectionAppointments); got.Created != 1001 || got.Updated != 0 {
		t.Fatalf("counts = %+v", got)
	}
	if store.Count(domain.CollectionAppointments) != 1001 {
		t.Fatalf("stored = %d", store.Count(domain.CollectionAppointments))
	}
}

func TestBatchFailureStopsLoader(t *testing.T) {
	store := &failingStore{Store: newMemory(), failOn: 2}
	l := New(store, zerolog.Nop(), WithBatchSize(2))
	ctx := context.Background()

	var err error
	for i := 0; i < 6 && err == nil; i++ {
		err = l.Upsert(ctx, domain.CollectionPatients, fmt.Sprintf("patient_%d", i), domain.PatientKey{FirstName: "A"}, false)
	}
	var batchErr domain.LoaderBatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected LoaderBatchError, got %v", err)
	}
	if batchErr.Batch != 2 || batchErr.Size != 2 {
		t.Fatalf("batch error = %+v", batchErr)
	}
	if !domain.IsFatal(err) {
		t.Fatalf("batch error should be fatal")
	}
	if err := l.Upsert(ctx, domain.CollectionPatients, "patient_9", domain.PatientKey{}, false); !errors.Is(err, l.Err()) {
		t.Fatalf("loader accepted writes after failure: %v", err)
	}
	if err := l.Flush(ctx); err == nil {
		t.Fatalf("flush after failure should fail")
	}
	if store.Count(domain.CollectionPatients) != 2 {
		t.Fatalf("only the first batch may be committed, got %d docs", store.Count(domain.CollectionPatients))
	}
}

func TestUpsertCountsUpdates(t *testing.T) {
	store := newMemory()
	ctx := context.Background()
	for run := 0; run < 2; run++ {
		l := New(store, zerolog.Nop())
		if err := l.Upsert(ctx, domain.CollectionServices, "service_MU01", domain.ServiceItem{Code: "MU01", Name: "Muayene"}, false); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := l.Flush(ctx); err != nil {
			t.Fatalf("flush: %v", err)
		}
		want := Counts{Created: 1}
		if run == 1 {
			want = Counts{Updated: 1}
		}
		if got := l.Counts(domain.CollectionServices); got != want {
			t.Fatalf("run %d counts = %+v, want %+v", run, got, want)
		}
	}
}

func TestUpsertCaregiverUnionsChildren(t *testing.T) {
	store := newMemory()
	ctx := context.Background()

	first := New(store, zerolog.Nop())
	if err := first.UpsertCaregiver(ctx, domain.Caregiver{ID: "user_1", Email: "a@b.com", Children: []string{"patient_1"}, Role: domain.RoleParent}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := first.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	second := New(store, zerolog.Nop())
	if err := second.UpsertCaregiver(ctx, domain.Caregiver{ID: "user_1", Phone: "+905321112233", Children: []string{"patient_2"}, IsMultiChild: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := second.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	doc, err := store.Get(ctx, domain.CollectionUsers, "user_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got domain.Caregiver
	if err := core.Decode(doc, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got.Children, []string{"patient_1", "patient_2"}) {
		t.Fatalf("children = %v", got.Children)
	}
	if got.Email != "a@b.com" || got.Phone != "+905321112233" {
		t.Fatalf("merge lost fields: %+v", got)
	}
	if !got.IsMultiChild {
		t.Fatalf("isMultiChild not set")
	}
}

func TestUpsertCaregiverRequiresID(t *testing.T) {
	l := New(newMemory(), zerolog.Nop())
	err := l.UpsertCaregiver(context.Background(), domain.Caregiver{Email: "x@y.com"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteCounts(t *testing.T) {
	store := newMemory()
	ctx := context.Background()
	l := New(store, zerolog.Nop())
	_ = l.Upsert(ctx, domain.CollectionHealthRecords, "hr_1", domain.VisitRecord{ProtocolNo: "1"}, false)
	_ = l.Delete(ctx, domain.CollectionHealthRecords, "hr_1")
	_ = l.Delete(ctx, domain.CollectionHealthRecords, "missing")
	if err := l.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := l.Counts(domain.CollectionHealthRecords); got.Deleted != 1 || got.Created != 1 {
		t.Fatalf("counts = %+v", got)
	}
	if got := l.Total(); got.Written() != 1 {
		t.Fatalf("total = %+v", got)
	}
}
