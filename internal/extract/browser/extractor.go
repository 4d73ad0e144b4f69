// Package browser extracts EHR exports by driving the clinic's web UI in a
// single headless Chrome tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/extract"
	"clinicsync/internal/revision"
	"clinicsync/internal/secrets"
	"clinicsync/pkg/domain"
)

// Defaults for the EHR session.
const (
	DefaultLoginTimeout     = 20 * time.Second
	DefaultTwoFactorTimeout = 2 * time.Minute
	DefaultDownloadTimeout  = 30 * time.Second
	PreSubmitPause          = 2 * time.Second
	partialSuffix           = ".crdownload"
)

// Selectors locate the login form.
type Selectors struct {
	Username string
	Password string
	Submit   string
}

// DefaultSelectors match the EHR login page.
var DefaultSelectors = Selectors{
	Username: `input[name="username"]`,
	Password: `input[name="password"]`,
	Submit:   `button[type="submit"]`,
}

// Pacer waits between UI actions.
type Pacer interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerPacer struct{}

func (timerPacer) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// KeyDelay returns a human-like delay between 100 and 200 ms.
func KeyDelay() time.Duration {
	return time.Duration(100+rand.IntN(101)) * time.Millisecond
}

// Options configure the extractor.
type Options struct {
	BaseURL          string
	DownloadDir      string
	Headless         bool
	LoginTimeout     time.Duration
	TwoFactorTimeout time.Duration
	DownloadTimeout  time.Duration
	PollInterval     time.Duration
	Selectors        Selectors
	Pacer            Pacer
	KeyDelay         func() time.Duration
	// NewPage opens the browser tab; ChromePage when nil.
	NewPage func(ctx context.Context, headless bool, downloadDir string) (Page, error)
}

// Extractor implements extract.Extractor for the EHR.
type Extractor struct {
	opts    Options
	secrets *secrets.Store
	sink    extract.Sink
	log     zerolog.Logger
	session *extract.Session
	page    Page
}

// New returns an EHR extractor writing revisions into sink.
func New(opts Options, sec *secrets.Store, sink extract.Sink, log zerolog.Logger) *Extractor {
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.TwoFactorTimeout <= 0 {
		opts.TwoFactorTimeout = DefaultTwoFactorTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultDownloadTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Selectors == (Selectors{}) {
		opts.Selectors = DefaultSelectors
	}
	if opts.Pacer == nil {
		opts.Pacer = timerPacer{}
	}
	if opts.KeyDelay == nil {
		opts.KeyDelay = KeyDelay
	}
	if opts.NewPage == nil {
		opts.NewPage = func(ctx context.Context, headless bool, dir string) (Page, error) {
			return NewChromePage(ctx, headless, dir)
		}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Extractor{
		opts:    opts,
		secrets: sec,
		sink:    sink,
		log:     log.With().Str("component", "browser").Logger(),
		session: extract.NewSession(),
	}
}

// Source implements extract.Extractor.
func (e *Extractor) Source() domain.Source { return domain.SourceBulutKlinik }

// Datasets implements extract.Extractor.
func (e *Extractor) Datasets() []domain.Dataset { return domain.EHRDatasets() }

// Session exposes the session state machine.
func (e *Extractor) Session() *extract.Session { return e.session }

// Open logs in, waiting for an optional second-factor confirmation.
func (e *Extractor) Open(ctx context.Context) error {
	creds, err := e.secrets.EHRCredentials()
	if err != nil {
		return domain.ExtractorAuthError{Kind: domain.FailureMissingSecret, Err: err}
	}
	if err := e.session.To(extract.StateLoggingIn, ""); err != nil {
		return err
	}
	if err := os.MkdirAll(e.opts.DownloadDir, 0o755); err != nil {
		return domain.ExtractorAuthError{Kind: domain.FailureStorage, Err: err}
	}
	page, err := e.opts.NewPage(ctx, e.opts.Headless, e.opts.DownloadDir)
	if err != nil {
		return domain.ExtractorAuthError{Kind: domain.FailureNavigation, Err: err}
	}
	e.page = page

	loginCtx, cancel := context.WithTimeout(ctx, e.opts.LoginTimeout)
	defer cancel()
	loginURL := e.opts.BaseURL + extract.LoginPath
	if err := e.page.Navigate(loginCtx, loginURL); err != nil {
		return e.loginFailure(loginCtx, err)
	}
	if err := e.typeSlowly(loginCtx, e.opts.Selectors.Username, creds.Username); err != nil {
		return e.loginFailure(loginCtx, err)
	}
	if err := e.typeSlowly(loginCtx, e.opts.Selectors.Password, creds.Password); err != nil {
		return e.loginFailure(loginCtx, err)
	}
	if err := e.opts.Pacer.Sleep(loginCtx, PreSubmitPause); err != nil {
		return e.loginFailure(loginCtx, err)
	}
	if err := e.page.Click(loginCtx, e.opts.Selectors.Submit); err != nil {
		return e.loginFailure(loginCtx, err)
	}

	url, err := e.waitForURL(loginCtx, func(u string) bool { return u != "" && u != loginURL })
	if err != nil {
		return e.loginFailure(loginCtx, err)
	}
	if strings.Contains(url, extract.TwoFactorPath) {
		if err := e.session.To(extract.StateVerifying2FA, ""); err != nil {
			return err
		}
		e.log.Info().Msg("waiting for second-factor confirmation")
		tfCtx, tfCancel := context.WithTimeout(ctx, e.opts.TwoFactorTimeout)
		defer tfCancel()
		url, err = e.waitForURL(tfCtx, func(u string) bool { return !strings.Contains(u, extract.TwoFactorPath) })
		if err != nil {
			return e.loginFailure(tfCtx, err)
		}
	}
	if strings.Contains(url, extract.LoginPath) {
		return domain.ExtractorAuthError{Kind: domain.FailureLoginRejected, Err: fmt.Errorf("redirected to %s", url)}
	}
	if err := e.session.To(extract.StateAuthenticated, ""); err != nil {
		return err
	}
	e.log.Info().Msg("logged in")
	return nil
}

func (e *Extractor) loginFailure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ExtractorAuthError{Kind: domain.FailureLoginTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return domain.ExtractorAuthError{Kind: domain.FailureCancelled, Err: err}
	}
	return domain.ExtractorAuthError{Kind: domain.FailureNavigation, Err: err}
}

// typeSlowly sends text one character at a time with KeyDelay pauses.
func (e *Extractor) typeSlowly(ctx context.Context, selector, text string) error {
	for _, r := range text {
		if err := e.page.SendKeys(ctx, selector, string(r)); err != nil {
			return err
		}
		if err := e.opts.Pacer.Sleep(ctx, e.opts.KeyDelay()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extractor) waitForURL(ctx context.Context, done func(string) bool) (string, error) {
	for {
		url, err := e.page.Location(ctx)
		if err != nil {
			return "", err
		}
		if done(url) {
			return url, nil
		}
		if err := e.opts.Pacer.Sleep(ctx, e.opts.PollInterval); err != nil {
			return url, err
		}
	}
}

// Fetch downloads one export and stores it as a revision.
func (e *Extractor) Fetch(ctx context.Context, ds domain.Dataset) (revision.Revision, error) {
	entry, ok := extract.EntryFor(ds)
	if !ok {
		return revision.Revision{}, domain.ExtractorDatasetError{Dataset: ds, Kind: domain.FailureNavigation, Err: errors.New("dataset not exported by the EHR")}
	}
	if err := e.session.To(extract.StateDownloading, ds); err != nil {
		return revision.Revision{}, err
	}
	defer func() {
		if e.session.State() == extract.StateDownloading {
			_ = e.session.To(extract.StateAuthenticated, "")
		}
	}()
	fail := func(kind domain.FailureKind, err error) (revision.Revision, error) {
		return revision.Revision{}, domain.ExtractorDatasetError{Dataset: ds, Kind: kind, Err: err}
	}

	dlCtx, cancel := context.WithTimeout(ctx, e.opts.DownloadTimeout)
	defer cancel()
	if err := e.page.Navigate(dlCtx, e.opts.BaseURL+extract.LandingPath); err != nil {
		return fail(domain.FailureNavigation, err)
	}
	if err := clearDir(e.opts.DownloadDir); err != nil {
		return fail(domain.FailureStorage, err)
	}
	// Navigating to a download aborts the page load.
	if err := e.page.Navigate(dlCtx, e.opts.BaseURL+entry.ExportPath); err != nil && !isAborted(err) {
		return fail(domain.FailureNavigation, err)
	}
	path, err := e.waitForDownload(dlCtx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fail(domain.FailureCancelled, err)
		}
		return fail(domain.FailureDownloadTimeout, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fail(domain.FailureStorage, err)
	}
	rev, err := e.sink.Put(ctx, ds, data)
	if err != nil {
		return fail(domain.FailureStorage, err)
	}
	_ = os.Remove(path)
	return rev, nil
}

func (e *Extractor) waitForDownload(ctx context.Context) (string, error) {
	for {
		path, err := completedDownload(e.opts.DownloadDir)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
		if err := e.opts.Pacer.Sleep(ctx, e.opts.PollInterval); err != nil {
			return "", fmt.Errorf("no completed download: %w", err)
		}
	}
}

// Close tears the session down and closes the browser.
func (e *Extractor) Close() error {
	_ = e.session.To(extract.StateTearDown, "")
	if e.page == nil {
		return nil
	}
	err := e.page.Close()
	e.page = nil
	return err
}

func completedDownload(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, partialSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		return filepath.Join(dir, name), nil
	}
	return "", nil
}

func clearDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func isAborted(err error) bool {
	return strings.Contains(err.Error(), "net::ERR_ABORTED")
}
