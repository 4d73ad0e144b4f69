// Package filesource extracts the secondary-source export from a directory the
// scheduling system drops files into.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"clinicsync/internal/extract"
	"clinicsync/internal/revision"
	"clinicsync/pkg/domain"
)

var extensions = []string{".csv", ".xlsx"}

// Source copies the newest export file into the revision store.
type Source struct {
	dir  string
	sink extract.Sink
	log  zerolog.Logger
}

// New watches dir for Setmore exports.
func New(dir string, sink extract.Sink, log zerolog.Logger) *Source {
	return &Source{dir: dir, sink: sink, log: log.With().Str("component", "filesource").Logger()}
}

// Source implements extract.Extractor.
func (s *Source) Source() domain.Source { return domain.SourceSetmore }

// Datasets implements extract.Extractor.
func (s *Source) Datasets() []domain.Dataset {
	return []domain.Dataset{domain.DatasetSetmoreAppointments}
}

// Open checks that the export directory exists.
func (s *Source) Open(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("export dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("export dir %s is not a directory", s.dir)
	}
	return nil
}

// Fetch implements extract.Extractor.
func (s *Source) Fetch(ctx context.Context, ds domain.Dataset) (revision.Revision, error) {
	if ds != domain.DatasetSetmoreAppointments {
		return revision.Revision{}, domain.ExtractorDatasetError{Dataset: ds, Kind: domain.FailureNoSourceFile, Err: errors.New("not served by this source")}
	}
	path, err := Newest(s.dir)
	if err != nil {
		return revision.Revision{}, domain.ExtractorDatasetError{Dataset: ds, Kind: domain.FailureNoSourceFile, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return revision.Revision{}, domain.ExtractorDatasetError{Dataset: ds, Kind: domain.FailureStorage, Err: err}
	}
	rev, err := s.sink.Put(ctx, ds, data)
	if err != nil {
		return revision.Revision{}, domain.ExtractorDatasetError{Dataset: ds, Kind: domain.FailureStorage, Err: err}
	}
	s.log.Debug().Str("file", filepath.Base(path)).Str("revision", rev.ID).Msg("export copied")
	return rev, nil
}

// Close implements extract.Extractor.
func (s *Source) Close() error { return nil }

// Newest returns the most recently modified export in dir; names break ties.
func Newest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		best     string
		bestInfo os.FileInfo
	)
	for _, entry := range entries {
		if entry.IsDir() || !exportFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if bestInfo == nil || info.ModTime().After(bestInfo.ModTime()) ||
			(info.ModTime().Equal(bestInfo.ModTime()) && entry.Name() > filepath.Base(best)) {
			best, bestInfo = filepath.Join(dir, entry.Name()), info
		}
	}
	if best == "" {
		return "", fmt.Errorf("no export file in %s", dir)
	}
	return best, nil
}

func exportFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}
