// Package httpsource extracts the secondary-source export over HTTPS.
package httpsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"clinicsync/internal/extract"
	"clinicsync/internal/revision"
	"clinicsync/pkg/domain"
)

// Source downloads the appointments export from a URL.
type Source struct {
	url    string
	client *resty.Client
	sink   extract.Sink
	log    zerolog.Logger
}

// New returns a source fetching url with an optional bearer token.
func New(url, token string, timeout time.Duration, sink extract.Sink, log zerolog.Logger) *Source {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "text/csv, application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Source{url: url, client: client, sink: sink, log: log.With().Str("component", "httpsource").Logger()}
}

// Source implements extract.Extractor.
func (s *Source) Source() domain.Source { return domain.SourceSetmore }

// Datasets implements extract.Extractor.
func (s *Source) Datasets() []domain.Dataset {
	return []domain.Dataset{domain.DatasetSetmoreAppointments}
}

// Open implements extract.Extractor.
func (s *Source) Open(context.Context) error {
	if s.url == "" {
		return errors.New("export url not configured")
	}
	return nil
}

// Fetch implements extract.Extractor.
func (s *Source) Fetch(ctx context.Context, ds domain.Dataset) (revision.Revision, error) {
	fail := func(kind domain.FailureKind, err error) (revision.Revision, error) {
		return revision.Revision{}, domain.ExtractorDatasetError{Dataset: ds, Kind: kind, Err: err}
	}
	if ds != domain.DatasetSetmoreAppointments {
		return fail(domain.FailureNoSourceFile, errors.New("not served by this source"))
	}
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fail(domain.FailureCancelled, err)
		}
		return fail(domain.FailureDownloadTimeout, err)
	}
	if resp.IsError() {
		return fail(domain.FailureNavigation, fmt.Errorf("GET %s: %s", s.url, resp.Status()))
	}
	body := resp.Body()
	if len(body) == 0 {
		return fail(domain.FailureNoSourceFile, errors.New("empty export"))
	}
	rev, err := s.sink.Put(ctx, ds, body)
	if err != nil {
		return fail(domain.FailureStorage, err)
	}
	s.log.Debug().Int("bytes", len(body)).Str("revision", rev.ID).Msg("export downloaded")
	return rev, nil
}

// Close implements extract.Extractor.
func (s *Source) Close() error { return nil }
