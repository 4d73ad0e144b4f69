package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"clinicsync/internal/docstore/core"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cases := []struct {
		name    string
		opts    Options
		want    core.Driver
		wantErr bool
	}{
		{name: "default sqlite", opts: Options{DSN: filepath.Join(dir, "a.db")}, want: core.DriverSQLite},
		{name: "memory", opts: Options{Driver: "memory"}, want: core.DriverMemory},
		{name: "firestore without project", opts: Options{Driver: "firestore"}, wantErr: true},
		{name: "unknown", opts: Options{Driver: "mongo"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(ctx, tc.opts)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer func() { _ = s.Close() }()
			if s.Driver() != tc.want {
				t.Fatalf("expected %s got %s", tc.want, s.Driver())
			}
		})
	}
}
