// Package change decides which datasets need to be re-parsed by comparing the
// content hash of their _latest revision with the hash recorded at the last load.
package change

import (
	"context"
	"fmt"
	"time"

	"clinicsync/pkg/domain"
)

// Checksummer yields the current content hash of a dataset, "" when it has no revision.
type Checksummer interface {
	Checksum(ctx context.Context, ds domain.Dataset) (string, error)
}

// Reason explains a detector decision.
type Reason string

// Decision reasons.
const (
	ReasonForced    Reason = "forced"
	ReasonNew       Reason = "never_loaded"
	ReasonModified  Reason = "content_changed"
	ReasonUnchanged Reason = "unchanged"
	ReasonMissing   Reason = "no_revision"
)

// Decision is the outcome for one dataset.
type Decision struct {
	Dataset domain.Dataset
	Changed bool
	Hash    string
	Reason  Reason
}

// Detector compares revision checksums against SyncStatus. It mutates the status it is given
// only through Commit and CommitStaged.
type Detector struct {
	sums   Checksummer
	status *domain.SyncStatus
	force  bool
	staged map[domain.Dataset]domain.DatasetCheckpoint
}

// New returns a detector over status. force makes every dataset with a revision count as changed.
func New(sums Checksummer, status *domain.SyncStatus, force bool) *Detector {
	if status.Datasets == nil {
		status.Datasets = make(map[domain.Dataset]domain.DatasetCheckpoint)
	}
	return &Detector{sums: sums, status: status, force: force, staged: make(map[domain.Dataset]domain.DatasetCheckpoint)}
}

// Check evaluates one dataset.
func (d *Detector) Check(ctx context.Context, ds domain.Dataset) (Decision, error) {
	hash, err := d.sums.Checksum(ctx, ds)
	if err != nil {
		return Decision{}, fmt.Errorf("checksum %s: %w", ds, err)
	}
	dec := Decision{Dataset: ds, Hash: hash}
	last := d.status.LastHash(ds)
	switch {
	case hash == "":
		dec.Reason = ReasonMissing
	case d.force:
		dec.Changed, dec.Reason = true, ReasonForced
	case last == "":
		dec.Changed, dec.Reason = true, ReasonNew
	case last != hash:
		dec.Changed, dec.Reason = true, ReasonModified
	default:
		dec.Reason = ReasonUnchanged
	}
	return dec, nil
}

// Changed reports whether ds must be processed.
func (d *Detector) Changed(ctx context.Context, ds domain.Dataset) (bool, error) {
	dec, err := d.Check(ctx, ds)
	return dec.Changed, err
}

// Commit records that the revision with hash was fully loaded. Call only after the load succeeded.
func (d *Detector) Commit(ds domain.Dataset, hash string, rows int, runID string, at time.Time) {
	d.status.Datasets[ds] = checkpoint(hash, rows, runID, at)
}

// Stage holds the checkpoint of a loaded revision until CommitStaged. The status is
// untouched, so a run that stops before its later stages reloads the dataset next time.
func (d *Detector) Stage(ds domain.Dataset, hash string, rows int, runID string, at time.Time) {
	d.staged[ds] = checkpoint(hash, rows, runID, at)
}

// Staged returns the number of checkpoints waiting for CommitStaged.
func (d *Detector) Staged() int { return len(d.staged) }

// CommitStaged moves every staged checkpoint into the status and returns how many it moved.
func (d *Detector) CommitStaged() int {
	n := len(d.staged)
	for ds, cp := range d.staged {
		d.status.Datasets[ds] = cp
	}
	d.staged = make(map[domain.Dataset]domain.DatasetCheckpoint)
	return n
}

func checkpoint(hash string, rows int, runID string, at time.Time) domain.DatasetCheckpoint {
	return domain.DatasetCheckpoint{
		LastHash:     hash,
		LastRowCount: rows,
		LastRunID:    runID,
		UpdatedAt:    at.UTC(),
	}
}
