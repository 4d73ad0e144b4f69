// Package syncstate persists the SyncStatus singleton and guards runs with a
// process-wide lock.
package syncstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"clinicsync/pkg/domain"
)

// StatusStore reads and atomically replaces the status file.
type StatusStore struct {
	path string
}

// NewStatusStore returns a store for the status file at path.
func NewStatusStore(path string) *StatusStore {
	return &StatusStore{path: path}
}

// Path returns the status file location.
func (s *StatusStore) Path() string { return s.path }

// Load returns the persisted status, or an empty one when the file does not exist yet.
func (s *StatusStore) Load() (domain.SyncStatus, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewSyncStatus(), nil
	}
	if err != nil {
		return domain.SyncStatus{}, fmt.Errorf("read status: %w", err)
	}
	status := domain.NewSyncStatus()
	if err := json.Unmarshal(raw, &status); err != nil {
		return domain.SyncStatus{}, fmt.Errorf("decode status %s: %w", s.path, err)
	}
	if status.Datasets == nil {
		status.Datasets = make(map[domain.Dataset]domain.DatasetCheckpoint)
	}
	return status, nil
}

// Save writes status to a temp file in the same directory and renames it over the
// status file, so readers see either the old or the new document.
func (s *StatusStore) Save(status domain.SyncStatus) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("status dir: %w", err)
	}
	raw, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".last_sync-*.json")
	if err != nil {
		return fmt.Errorf("create temp status: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp status: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp status: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace status: %w", err)
	}
	return nil
}
