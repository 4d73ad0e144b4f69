package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"clinicsync/internal/clock"
	"clinicsync/internal/extract"
	"clinicsync/internal/infra/blob/memory"
	"clinicsync/internal/logging"
	"clinicsync/internal/revision"
	"clinicsync/internal/secrets"
	"clinicsync/pkg/domain"
)

const baseURL = "https://ehr.test"

type fakePage struct {
	mu        sync.Mutex
	dir       string
	urls      []string
	location  string
	keys      []string
	clicks    []string
	navigated []string
	download  string
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	p.location = url
	if strings.Contains(url, "/raporlar/") {
		if p.download == "" {
			return nil
		}
		_ = os.WriteFile(filepath.Join(p.dir, "export.csv.crdownload"), []byte("partial"), 0o644)
		_ = os.WriteFile(filepath.Join(p.dir, "export.csv"), []byte(p.download), 0o644)
		return errors.New("page load error net::ERR_ABORTED")
	}
	return nil
}

func (p *fakePage) SendKeys(_ context.Context, _ string, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, text)
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	return nil
}

// Location replays the scripted URLs after the submit click, then sticks to the last one.
func (p *fakePage) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clicks) == 0 || len(p.urls) == 0 {
		return p.location, nil
	}
	url := p.urls[0]
	if len(p.urls) > 1 {
		p.urls = p.urls[1:]
	}
	p.location = url
	return url, nil
}

func (p *fakePage) Close() error { return nil }

type recordingPacer struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordingPacer) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	t := time.NewTimer(time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newExtractor(t *testing.T, page *fakePage, sec secrets.Provider, opts Options) (*Extractor, *recordingPacer) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "downloads")
	page.dir = dir
	pacer := &recordingPacer{}
	opts.BaseURL = baseURL + "/"
	opts.DownloadDir = dir
	opts.Pacer = pacer
	opts.PollInterval = time.Millisecond
	opts.NewPage = func(context.Context, bool, string) (Page, error) { return page, nil }
	revs := revision.New(memory.New(), clock.NewFixed(time.Date(2024, 8, 15, 3, 0, 0, 0, time.UTC)), logging.Nop())
	return New(opts, secrets.NewStore(sec), revs, logging.Nop()), pacer
}

func creds() secrets.MapProvider {
	return secrets.MapProvider{secrets.EHRUsername: "dr", secrets.EHRPassword: "pw1"}
}

func TestLoginTypesSlowlyAndPauses(t *testing.T) {
	page := &fakePage{urls: []string{baseURL + "/panel"}}
	ex, pacer := newExtractor(t, page, creds(), Options{})
	if err := ex.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if strings.Join(page.keys, "") != "drpw1" || len(page.keys) != 5 {
		t.Fatalf("keys = %v", page.keys)
	}
	keyDelays, pauses := 0, 0
	for _, d := range pacer.sleeps {
		switch {
		case d == PreSubmitPause:
			pauses++
		case d >= 100*time.Millisecond && d <= 200*time.Millisecond:
			keyDelays++
		}
	}
	if keyDelays != 5 || pauses != 1 {
		t.Fatalf("key delays = %d, pauses = %d (%v)", keyDelays, pauses, pacer.sleeps)
	}
	want := []extract.State{extract.StateIdle, extract.StateLoggingIn, extract.StateAuthenticated}
	if got := ex.Session().History(); !equalStates(got, want) {
		t.Fatalf("history = %v", got)
	}
	if page.navigated[0] != baseURL+extract.LoginPath {
		t.Fatalf("navigated = %v", page.navigated)
	}
}

func TestLoginWithSecondFactor(t *testing.T) {
	page := &fakePage{urls: []string{baseURL + extract.TwoFactorPath, baseURL + extract.TwoFactorPath, baseURL + "/panel"}}
	ex, _ := newExtractor(t, page, creds(), Options{})
	if err := ex.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	want := []extract.State{extract.StateIdle, extract.StateLoggingIn, extract.StateVerifying2FA, extract.StateAuthenticated}
	if got := ex.Session().History(); !equalStates(got, want) {
		t.Fatalf("history = %v", got)
	}
}

func TestLoginFailures(t *testing.T) {
	cases := []struct {
		name string
		page *fakePage
		sec  secrets.MapProvider
		opts Options
		kind domain.FailureKind
	}{
		{name: "missing secret", page: &fakePage{}, sec: secrets.MapProvider{}, kind: domain.FailureMissingSecret},
		{name: "timeout", page: &fakePage{}, sec: creds(), opts: Options{LoginTimeout: 30 * time.Millisecond}, kind: domain.FailureLoginTimeout},
		{name: "second factor timeout", page: &fakePage{urls: []string{baseURL + extract.TwoFactorPath}}, sec: creds(),
			opts: Options{TwoFactorTimeout: 30 * time.Millisecond}, kind: domain.FailureLoginTimeout},
		{name: "rejected", page: &fakePage{urls: []string{baseURL + extract.LoginPath + "?hata=1"}}, sec: creds(), kind: domain.FailureLoginRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ex, _ := newExtractor(t, tc.page, tc.sec, tc.opts)
			err := ex.Open(context.Background())
			var auth domain.ExtractorAuthError
			if !errors.As(err, &auth) || auth.Kind != tc.kind {
				t.Fatalf("err = %v, want kind %s", err, tc.kind)
			}
			if !domain.IsFatal(err) {
				t.Fatalf("login failure must be fatal")
			}
			_ = ex.Close()
			if ex.Session().State() != extract.StateTearDown {
				t.Fatalf("state after close = %s", ex.Session().State())
			}
		})
	}
}

func TestFetchStoresRevision(t *testing.T) {
	page := &fakePage{urls: []string{baseURL + "/panel"}, download: "Hasta_No;Hasta_Adı\n1;Ali\n"}
	ex, _ := newExtractor(t, page, creds(), Options{})
	ctx := context.Background()
	if err := ex.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	rev, err := ex.Fetch(ctx, domain.DatasetPatients)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rev.Dataset != domain.DatasetPatients || !strings.HasSuffix(rev.ID, ".csv") {
		t.Fatalf("revision = %+v", rev)
	}
	if ex.Session().State() != extract.StateAuthenticated {
		t.Fatalf("state = %s", ex.Session().State())
	}
	landing := baseURL + extract.LandingPath
	if page.navigated[len(page.navigated)-2] != landing {
		t.Fatalf("landing page not visited before export: %v", page.navigated)
	}
	if _, err := os.Stat(filepath.Join(page.dir, "export.csv")); !os.IsNotExist(err) {
		t.Fatalf("downloaded file should be moved out of the download dir")
	}
}

func TestFetchDownloadTimeout(t *testing.T) {
	page := &fakePage{urls: []string{baseURL + "/panel"}}
	ex, _ := newExtractor(t, page, creds(), Options{DownloadTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	if err := ex.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := ex.Fetch(ctx, domain.DatasetPayments)
	var dsErr domain.ExtractorDatasetError
	if !errors.As(err, &dsErr) || dsErr.Kind != domain.FailureDownloadTimeout {
		t.Fatalf("err = %v", err)
	}
	if domain.IsFatal(err) {
		t.Fatalf("dataset failure must not be fatal")
	}
	if ex.Session().State() != extract.StateAuthenticated {
		t.Fatalf("state = %s", ex.Session().State())
	}
}

func TestFetchUnknownDataset(t *testing.T) {
	page := &fakePage{urls: []string{baseURL + "/panel"}}
	ex, _ := newExtractor(t, page, creds(), Options{})
	if err := ex.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := ex.Fetch(context.Background(), domain.DatasetSetmoreAppointments); err == nil {
		t.Fatalf("expected error")
	}
}

func TestKeyDelayRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := KeyDelay()
		if d < 100*time.Millisecond || d > 200*time.Millisecond {
			t.Fatalf("delay %v out of range", d)
		}
	}
}

func equalStates(a, b []extract.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
