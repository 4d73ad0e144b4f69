// Package core defines the blob storage contract that backs the revision store.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores raw revisions under the local data dir.
	DriverFilesystem Driver = "fs"
	// DriverS3 archives raw revisions in an S3 / MinIO bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps revisions in process memory (tests).
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small flat key-value metadata
	Overwrite   bool              // replace an existing blob instead of failing
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store provides a thin S3-like abstraction.
type Store interface {
	// Put stores a blob at key. Fails with ErrExists when the key exists unless opts.Overwrite is set.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns metadata and content. Missing keys yield an error matching ErrNotFound.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete removes a blob, returning false when it did not exist.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrNotFound is returned for missing keys.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrExists is returned by Put when the key exists and overwrite is off.
	ErrExists = errors.New("blobstore: already exists")
)
