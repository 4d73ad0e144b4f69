package filesource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clinicsync/internal/clock"
	"clinicsync/internal/infra/blob/memory"
	"clinicsync/internal/logging"
	"clinicsync/internal/revision"
	"clinicsync/pkg/domain"
)

func writeFile(t *testing.T, dir, name, body string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestNewestPicksLatestExport(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 8, 14, 12, 0, 0, 0, time.UTC)
	writeFile(t, dir, "appointments_old.csv", "old", base)
	writeFile(t, dir, "appointments_new.csv", "new", base.Add(time.Hour))
	writeFile(t, dir, "notes.txt", "ignored", base.Add(2*time.Hour))
	writeFile(t, dir, ".hidden.csv", "ignored", base.Add(3*time.Hour))

	got, err := Newest(dir)
	if err != nil {
		t.Fatalf("newest: %v", err)
	}
	if filepath.Base(got) != "appointments_new.csv" {
		t.Fatalf("newest = %s", got)
	}
}

func TestFetchCopiesIntoRevisionStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "export.csv", "Customer Name;Date\nAyşe Kaya;2024-08-20\n", time.Now())
	revs := revision.New(memory.New(), clock.NewFixed(time.Date(2024, 8, 15, 3, 0, 0, 0, time.UTC)), logging.Nop())
	src := New(dir, revs, logging.Nop())
	ctx := context.Background()

	if err := src.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := src.Fetch(ctx, domain.DatasetSetmoreAppointments); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	latest, err := revs.Latest(ctx, domain.DatasetSetmoreAppointments)
	if err != nil || string(latest) != "Customer Name;Date\nAyşe Kaya;2024-08-20\n" {
		t.Fatalf("latest = %q, %v", latest, err)
	}
}

func TestFetchWithoutFiles(t *testing.T) {
	revs := revision.New(memory.New(), nil, logging.Nop())
	src := New(t.TempDir(), revs, logging.Nop())
	_, err := src.Fetch(context.Background(), domain.DatasetSetmoreAppointments)
	var dsErr domain.ExtractorDatasetError
	if !errors.As(err, &dsErr) || dsErr.Kind != domain.FailureNoSourceFile {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenMissingDir(t *testing.T) {
	src := New(filepath.Join(t.TempDir(), "missing"), nil, logging.Nop())
	if err := src.Open(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
