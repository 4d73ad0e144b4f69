// Package revision keeps every extracted file of a dataset as an immutable,
// timestamped revision next to a mutable "_latest" copy.
package revision

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/blob"
	"clinicsync/internal/blob/core"
	"clinicsync/internal/clock"
	"clinicsync/pkg/domain"
)

const (
	timestampLayout = "20060102_150405"
	latestSuffix    = "_latest"
	extCSV          = ".csv"
	extXLSX         = ".xlsx"
)

var zipMagic = []byte("PK\x03\x04")

// Revision describes one stored extraction.
type Revision struct {
	ID        string         `json:"id"`
	Dataset   domain.Dataset `json:"dataset"`
	Size      int64          `json:"size"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the single writer of raw revisions.
type Store struct {
	blobs blob.Store
	clock clock.Clock
	log   zerolog.Logger
}

// New wraps a blob store.
func New(blobs blob.Store, clk clock.Clock, log zerolog.Logger) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{blobs: blobs, clock: clk, log: log.With().Str("component", "revision").Logger()}
}

// Prefix is the key prefix shared by every revision of a source.
func Prefix(src domain.Source) string {
	return path.Join("raw", string(src)) + "/"
}

func extFor(data []byte) string {
	if bytes.HasPrefix(data, zipMagic) {
		return extXLSX
	}
	return extCSV
}

func latestKey(ds domain.Dataset, ext string) string {
	return Prefix(ds.Source()) + string(ds) + latestSuffix + ext
}

// Put stores data as a new timestamped revision and replaces the dataset's _latest copy.
func (s *Store) Put(ctx context.Context, ds domain.Dataset, data []byte) (Revision, error) {
	if !ds.Valid() {
		return Revision{}, fmt.Errorf("unknown dataset %q", ds)
	}
	now := s.clock.Now().UTC()
	ext := extFor(data)
	base := Prefix(ds.Source()) + string(ds) + "_" + now.Format(timestampLayout)
	opts := core.PutOptions{ContentType: contentType(ext), Metadata: map[string]string{"dataset": string(ds)}}

	key := base + ext
	var info core.Info
	var err error
	for n := 1; ; n++ {
		info, err = s.blobs.Put(ctx, key, bytes.NewReader(data), opts)
		if !errors.Is(err, core.ErrExists) {
			break
		}
		// Two revisions in the same second get a counter suffix that still sorts after the first.
		key = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("store revision %s: %w", key, err)
	}

	latestOpts := opts
	latestOpts.Overwrite = true
	if _, err := s.blobs.Put(ctx, latestKey(ds, ext), bytes.NewReader(data), latestOpts); err != nil {
		return Revision{}, fmt.Errorf("store latest %s: %w", ds, err)
	}
	other := extCSV
	if ext == extCSV {
		other = extXLSX
	}
	if _, err := s.blobs.Delete(ctx, latestKey(ds, other)); err != nil {
		return Revision{}, fmt.Errorf("drop stale latest %s: %w", ds, err)
	}
	s.log.Debug().Str("dataset", string(ds)).Str("key", key).Int64("bytes", info.Size).Msg("revision stored")
	return Revision{ID: key, Dataset: ds, Size: info.Size, CreatedAt: now}, nil
}

// Latest returns the bytes of the newest successful Put, or nil when the dataset was never stored.
func (s *Store) Latest(ctx context.Context, ds domain.Dataset) ([]byte, error) {
	data, _, err := s.latest(ctx, ds)
	return data, err
}

// LatestKey returns the key of the _latest copy, "" when absent.
func (s *Store) LatestKey(ctx context.Context, ds domain.Dataset) (string, error) {
	_, key, err := s.latest(ctx, ds)
	return key, err
}

func (s *Store) latest(ctx context.Context, ds domain.Dataset) ([]byte, string, error) {
	for _, ext := range []string{extCSV, extXLSX} {
		key := latestKey(ds, ext)
		_, rc, err := s.blobs.Get(ctx, key)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("read latest %s: %w", ds, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, "", fmt.Errorf("read latest %s: %w", ds, err)
		}
		return data, key, nil
	}
	return nil, "", nil
}

// Checksum returns the hex MD5 of the dataset's _latest bytes, "" when absent.
func (s *Store) Checksum(ctx context.Context, ds domain.Dataset) (string, error) {
	data, key, err := s.latest(ctx, ds)
	if err != nil || key == "" {
		return "", err
	}
	return Sum(data), nil
}

// Sum is the content hash used for change detection.
func Sum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// List returns the timestamped revisions of a dataset, oldest first.
func (s *Store) List(ctx context.Context, ds domain.Dataset) ([]Revision, error) {
	infos, err := s.blobs.List(ctx, Prefix(ds.Source())+string(ds)+"_")
	if err != nil {
		return nil, fmt.Errorf("list revisions %s: %w", ds, err)
	}
	pattern := revisionPattern(ds)
	var out []Revision
	for _, info := range infos {
		m := pattern.FindStringSubmatch(path.Base(info.Key))
		if m == nil {
			continue
		}
		created, _ := time.ParseInLocation(timestampLayout, m[1], time.UTC)
		out = append(out, Revision{ID: info.Key, Dataset: ds, Size: info.Size, CreatedAt: created})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Prune deletes all but the keep newest timestamped revisions. _latest is never touched.
func (s *Store) Prune(ctx context.Context, ds domain.Dataset, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	revs, err := s.List(ctx, ds)
	if err != nil {
		return 0, err
	}
	if len(revs) <= keep {
		return 0, nil
	}
	removed := 0
	for _, rev := range revs[:len(revs)-keep] {
		ok, err := s.blobs.Delete(ctx, rev.ID)
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", rev.ID, err)
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info().Str("dataset", string(ds)).Int("removed", removed).Int("kept", keep).Msg("revisions pruned")
	}
	return removed, nil
}

func revisionPattern(ds domain.Dataset) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(string(ds)) + `_(\d{8}_\d{6})(?:_\d+)?\.(?:csv|xlsx)$`)
}

func contentType(ext string) string {
	if strings.EqualFold(ext, extXLSX) {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}
