// Package blob selects the blob storage driver that holds raw source revisions.
package blob

import (
	"context"
	"fmt"

	"clinicsync/internal/blob/core"
	"clinicsync/internal/infra/blob/fs"
	"clinicsync/internal/infra/blob/memory"
	"clinicsync/internal/infra/blob/s3"
)

// Store aliases core.Store for callers that only import this package.
type Store = core.Store

// Options selects and configures a driver.
type Options struct {
	Driver      string
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Open constructs the configured driver. An empty driver means the local filesystem.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = string(core.DriverFilesystem)
	}
	switch core.Driver(driver) {
	case core.DriverFilesystem:
		return fs.New(opts.FSRoot)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    opts.S3Bucket,
			Region:    opts.S3Region,
			Endpoint:  opts.S3Endpoint,
			PathStyle: opts.S3PathStyle,
		})
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
