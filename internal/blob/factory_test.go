package blob

import (
	"context"
	"testing"

	"clinicsync/internal/blob/core"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		opts    Options
		driver  core.Driver
		wantErr bool
	}{
		{name: "default is filesystem", opts: Options{FSRoot: t.TempDir()}, driver: core.DriverFilesystem},
		{name: "memory", opts: Options{Driver: "memory"}, driver: core.DriverMemory},
		{name: "s3 without bucket", opts: Options{Driver: "s3"}, wantErr: true},
		{name: "unknown", opts: Options{Driver: "ftp"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := Open(ctx, tc.opts)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if store.Driver() != tc.driver {
				t.Fatalf("driver %s, want %s", store.Driver(), tc.driver)
			}
		})
	}
}
