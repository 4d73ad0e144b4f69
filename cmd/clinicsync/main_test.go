package main

import (
	"bytes"
	"testing"

	"clinicsync/internal/pipeline"
)

func TestSyncFlagsScope(t *testing.T) {
	cases := []struct {
		name    string
		flags   syncFlags
		want    pipeline.Scope
		wantErr bool
	}{
		{"none", syncFlags{}, pipeline.ScopeAll, false},
		{"patients", syncFlags{patients: true}, pipeline.ScopePatients, false},
		{"bf", syncFlags{bf: true, force: true}, pipeline.ScopeBF, false},
		{"two scopes", syncFlags{medical: true, growth: true}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.flags.scope()
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestExecuteRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := execute([]string{"sync", "--no-such-flag"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatalf("expected an error message")
	}
}

func TestExecuteRejectsConflictingScopes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := execute([]string{"sync", "--patients", "--growth"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !bytes.Contains(stderr.Bytes(), []byte("mutually exclusive")) {
		t.Fatalf("unexpected error output %q", stderr.String())
	}
}

func TestExitErrorCarriesCode(t *testing.T) {
	if got := (exitError{code: 2}).Error(); got != "exit 2" {
		t.Fatalf("got %q", got)
	}
}
