package change

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinicsync/pkg/domain"
)

type fakeSums map[domain.Dataset]string

func (f fakeSums) Checksum(_ context.Context, ds domain.Dataset) (string, error) {
	if ds == "broken" {
		return "", errors.New("io")
	}
	return f[ds], nil
}

func TestDetectorDecisions(t *testing.T) {
	status := domain.NewSyncStatus()
	status.Datasets[domain.DatasetPatients] = domain.DatasetCheckpoint{LastHash: "aaa"}
	status.Datasets[domain.DatasetProtocols] = domain.DatasetCheckpoint{LastHash: "old"}
	sums := fakeSums{
		domain.DatasetPatients:  "aaa",
		domain.DatasetProtocols: "new",
		domain.DatasetPayments:  "ppp",
	}
	cases := []struct {
		name   string
		ds     domain.Dataset
		force  bool
		want   bool
		reason Reason
	}{
		{"unchanged", domain.DatasetPatients, false, false, ReasonUnchanged},
		{"modified", domain.DatasetProtocols, false, true, ReasonModified},
		{"never loaded", domain.DatasetPayments, false, true, ReasonNew},
		{"missing revision", domain.DatasetServices, false, false, ReasonMissing},
		{"forced unchanged", domain.DatasetPatients, true, true, ReasonForced},
		{"forced missing", domain.DatasetServices, true, false, ReasonMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := New(sums, &status, tc.force)
			dec, err := d.Check(context.Background(), tc.ds)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if dec.Changed != tc.want || dec.Reason != tc.reason {
				t.Fatalf("got %+v", dec)
			}
		})
	}
}

func TestCommitAdvancesHashOnlyForCommittedDataset(t *testing.T) {
	status := domain.NewSyncStatus()
	sums := fakeSums{domain.DatasetPatients: "h1", domain.DatasetPayments: "h2"}
	d := New(sums, &status, false)
	at := time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC)
	d.Commit(domain.DatasetPatients, "h1", 12, "run-1", at)

	if changed, _ := d.Changed(context.Background(), domain.DatasetPatients); changed {
		t.Fatalf("committed dataset should be unchanged")
	}
	if changed, _ := d.Changed(context.Background(), domain.DatasetPayments); !changed {
		t.Fatalf("uncommitted dataset should still be changed")
	}
	cp := status.Datasets[domain.DatasetPatients]
	if cp.LastRowCount != 12 || cp.LastRunID != "run-1" || !cp.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
}

func TestStagedCheckpointsWaitForCommit(t *testing.T) {
	status := domain.NewSyncStatus()
	status.Datasets[domain.DatasetPatients] = domain.DatasetCheckpoint{LastHash: "old"}
	d := New(fakeSums{domain.DatasetPatients: "new"}, &status, false)
	d.Stage(domain.DatasetPatients, "new", 3, "run-2", time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC))

	if got := status.LastHash(domain.DatasetPatients); got != "old" {
		t.Fatalf("staging changed the status: %q", got)
	}
	if changed, _ := d.Changed(context.Background(), domain.DatasetPatients); !changed {
		t.Fatalf("staged dataset must still read as changed")
	}
	if d.Staged() != 1 {
		t.Fatalf("staged = %d", d.Staged())
	}
	if n := d.CommitStaged(); n != 1 || d.Staged() != 0 {
		t.Fatalf("commit moved %d, %d left", n, d.Staged())
	}
	if got := status.LastHash(domain.DatasetPatients); got != "new" {
		t.Fatalf("hash after commit %q", got)
	}
}

func TestCheckPropagatesChecksumError(t *testing.T) {
	status := domain.NewSyncStatus()
	d := New(fakeSums{}, &status, false)
	if _, err := d.Check(context.Background(), "broken"); err == nil {
		t.Fatalf("expected error")
	}
}
