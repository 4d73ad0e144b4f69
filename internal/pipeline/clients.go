package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"clinicsync/internal/blob"
	"clinicsync/internal/clock"
	"clinicsync/internal/config"
	"clinicsync/internal/derive"
	"clinicsync/internal/docstore"
	"clinicsync/internal/docstore/core"
	"clinicsync/internal/events"
	"clinicsync/internal/extract"
	"clinicsync/internal/extract/browser"
	"clinicsync/internal/extract/filesource"
	"clinicsync/internal/extract/httpsource"
	"clinicsync/internal/metrics"
	"clinicsync/internal/revision"
	"clinicsync/internal/secrets"
	"clinicsync/internal/syncstate"
)

// redisLockKey is the Redis key guarding runs when the redis lock driver is used.
const redisLockKey = "clinicsync:run-lock"

// Layout locates the files a run writes besides the status file.
type Layout struct {
	LogsDir     string
	MetricsPath string
}

// Clients are the collaborators of a run. They are built once per process and
// shared by every stage; Close releases the ones holding connections.
type Clients struct {
	Clock      clock.Clock
	Revisions  *revision.Store
	Store      core.Store
	Lock       syncstate.Lock
	Status     *syncstate.StatusStore
	Metrics    *metrics.Registry
	Events     events.Publisher
	Extractors []extract.Extractor
	Schedule   *derive.Schedule
	Layout     Layout

	closers []func() error
}

// NewClients wires every driver selected by cfg.
func NewClients(ctx context.Context, cfg *config.Config, sec *secrets.Store, log zerolog.Logger) (*Clients, error) {
	c := &Clients{
		Clock:   clock.System{},
		Status:  syncstate.NewStatusStore(cfg.StatusPath()),
		Metrics: metrics.New(),
		Layout:  Layout{LogsDir: cfg.LogsDir(), MetricsPath: cfg.MetricsPath()},
	}
	fail := func(err error) (*Clients, error) {
		_ = c.Close()
		return nil, err
	}

	blobs, err := blob.Open(ctx, blob.Options{
		Driver:      cfg.BlobDriver,
		FSRoot:      cfg.DataDir,
		S3Bucket:    cfg.BlobS3Bucket,
		S3Region:    cfg.BlobS3Region,
		S3Endpoint:  cfg.BlobS3Endpoint,
		S3PathStyle: cfg.BlobS3PathStyle,
	})
	if err != nil {
		return fail(fmt.Errorf("open blob store: %w", err))
	}
	c.Revisions = revision.New(blobs, c.Clock, log)

	var creds []byte
	if cfg.StoreDriver == string(core.DriverFirestore) {
		creds, err = sec.GoogleCredentialsJSON()
		var missing secrets.MissingSecretError
		if errors.As(err, &missing) {
			// Application default credentials.
			creds, err = nil, nil
		}
		if err != nil {
			return fail(err)
		}
	}
	store, err := docstore.Open(ctx, docstore.Options{
		Driver:             cfg.StoreDriver,
		DSN:                cfg.StoreDSNOrDefault(),
		FirestoreProjectID: cfg.FirestoreProjectID,
		CredentialsJSON:    creds,
		Clock:              c.Clock,
	})
	if err != nil {
		return fail(fmt.Errorf("open document store: %w", err))
	}
	c.Store = store
	c.closers = append(c.closers, store.Close)

	switch cfg.LockDriver {
	case "redis":
		client, err := syncstate.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		c.closers = append(c.closers, client.Close)
		c.Lock = syncstate.NewRedisLock(client, redisLockKey, syncstate.DefaultLockTTL)
	default:
		c.Lock = syncstate.NewFileLock(syncstate.LockPathFor(cfg.StatusPath()))
	}

	pub, err := events.Open(ctx, events.Options{
		Driver:       events.Driver(cfg.EventsDriver),
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
		SQSQueueURL:  cfg.SQSQueueURL,
		AWSRegion:    cfg.BlobS3Region,
	})
	if err != nil {
		return fail(fmt.Errorf("open event publisher: %w", err))
	}
	c.Events = pub
	c.closers = append(c.closers, pub.Close)

	if cfg.ImmunizationScheduleFile != "" {
		c.Schedule, err = derive.LoadSchedule(cfg.ImmunizationScheduleFile)
	} else {
		c.Schedule, err = derive.DefaultSchedule()
	}
	if err != nil {
		return fail(fmt.Errorf("immunization schedule: %w", err))
	}

	c.Extractors = append(c.Extractors, browser.New(browser.Options{
		BaseURL:          cfg.BaseURL,
		DownloadDir:      cfg.DownloadDir(),
		Headless:         cfg.Headless,
		LoginTimeout:     cfg.LoginTimeout,
		TwoFactorTimeout: cfg.TwoFactorTimeout,
		DownloadTimeout:  cfg.DownloadTimeout,
	}, sec, c.Revisions, log))
	switch {
	case cfg.SetmoreExportURL != "":
		c.Extractors = append(c.Extractors,
			httpsource.New(cfg.SetmoreExportURL, sec.Optional(secrets.SetmoreAPIToken), cfg.DownloadTimeout, c.Revisions, log))
	case cfg.SetmoreExportDir != "":
		c.Extractors = append(c.Extractors, filesource.New(filepath.Clean(cfg.SetmoreExportDir), c.Revisions, log))
	}
	return c, nil
}

// Close releases connections in reverse order of acquisition.
func (c *Clients) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
