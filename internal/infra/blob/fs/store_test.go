package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"clinicsync/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_PutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "raw/bulut_klinik/hastalar_20240815_090000.csv", bytes.NewReader([]byte("Hasta_No;Hasta_Adı\n1;Ali\n")), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"dataset": "hastalar"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 25 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "raw/bulut_klinik/hastalar_20240815_090000.csv", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	h, err := store.Head(ctx, "raw/bulut_klinik/hastalar_20240815_090000.csv")
	if err != nil || h.Metadata["dataset"] != "hastalar" {
		t.Fatalf("head: %+v %v", h, err)
	}
	_, rc, err := store.Get(ctx, "raw/bulut_klinik/hastalar_20240815_090000.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.HasPrefix(b, []byte("Hasta_No")) {
		t.Fatalf("unexpected body %q", b)
	}
	list, err := store.List(ctx, "raw/bulut_klinik/")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %+v %v", list, err)
	}
	ok, err := store.Delete(ctx, "raw/bulut_klinik/hastalar_20240815_090000.csv")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, _ = store.Delete(ctx, "raw/bulut_klinik/hastalar_20240815_090000.csv")
	if ok {
		t.Fatalf("second delete should report false")
	}
	if _, err := store.Head(ctx, "raw/bulut_klinik/hastalar_20240815_090000.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_OverwriteKeepsCreatedAndReplacesBody(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	key := "raw/bulut_klinik/hastalar_latest.csv"
	first, err := store.Put(ctx, key, bytes.NewReader([]byte("v1")), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := store.Put(ctx, key, bytes.NewReader([]byte("v2-longer")), core.PutOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if first.ETag == second.ETag || second.Size != 9 {
		t.Fatalf("overwrite did not replace content: %+v", second)
	}
	raw, err := os.ReadFile(filepath.Join(store.Root(), "raw", "bulut_klinik", "hastalar_latest.csv"))
	if err != nil || string(raw) != "v2-longer" {
		t.Fatalf("file on disk %q %v", raw, err)
	}
}

func TestStore_ListSkipsSidecarsAndDescribesForeignFiles(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "raw/setmore/a.csv", bytes.NewReader([]byte("a")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	foreign := filepath.Join(store.Root(), "raw", "setmore", "b.csv")
	if err := os.WriteFile(foreign, []byte("bb"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	list, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "raw/setmore/a.csv" || list[1].Size != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestStore_PathTraversal(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"../escape.txt", "/abs.txt", " ", ".meta/x"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for %q", key)
		}
	}
}
