package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies extractor failures.
type FailureKind string

// Extractor failure kinds.
const (
	FailureLoginTimeout    FailureKind = "login_timeout"
	FailureLoginRejected   FailureKind = "login_rejected"
	FailureMissingSecret   FailureKind = "missing_secret"
	FailureNavigation      FailureKind = "navigation"
	FailureDownloadTimeout FailureKind = "download_timeout"
	FailureNoSourceFile    FailureKind = "no_source_file"
	FailureStorage         FailureKind = "storage"
	FailureCancelled       FailureKind = "cancelled"
)

// ExtractorAuthError is fatal: the extractor could not establish a session.
type ExtractorAuthError struct {
	Kind FailureKind
	Err  error
}

func (e ExtractorAuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extractor auth failed (%s)", e.Kind)
	}
	return fmt.Sprintf("extractor auth failed (%s): %v", e.Kind, e.Err)
}

func (e ExtractorAuthError) Unwrap() error { return e.Err }

// ExtractorDatasetError is recoverable: one dataset could not be fetched.
type ExtractorDatasetError struct {
	Dataset Dataset
	Kind    FailureKind
	Err     error
}

func (e ExtractorDatasetError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extract %s failed (%s)", e.Dataset, e.Kind)
	}
	return fmt.Sprintf("extract %s failed (%s): %v", e.Dataset, e.Kind, e.Err)
}

func (e ExtractorDatasetError) Unwrap() error { return e.Err }

// ParseError describes a dropped row.
type ParseError struct {
	Dataset Dataset
	Row     int
	Reason  string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s row %d: %s", e.Dataset, e.Row, e.Reason)
}

// NormalizationError describes a field that was nulled during normalization.
type NormalizationError struct {
	Field  string
	Value  string
	Reason string
}

func (e NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s=%q: %s", e.Field, e.Value, e.Reason)
}

// ResolutionAmbiguity is informational: several patients matched by name and the first one won.
type ResolutionAmbiguity struct {
	Name       string
	Chosen     string
	Candidates []string
}

func (e ResolutionAmbiguity) Error() string {
	return fmt.Sprintf("ambiguous name %q matched %s; chose %s", e.Name, strings.Join(e.Candidates, ","), e.Chosen)
}

// ValidationError reports invalid input to a scorer, a visit-type/age mismatch or an invariant breach.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// LoaderBatchError is fatal: a batch commit failed and the run must stop.
type LoaderBatchError struct {
	Batch int
	Size  int
	Err   error
}

func (e LoaderBatchError) Error() string {
	return fmt.Sprintf("commit batch %d (%d ops): %v", e.Batch, e.Size, e.Err)
}

func (e LoaderBatchError) Unwrap() error { return e.Err }

// ReaperError is non-fatal: duplicate removal failed for one collection.
type ReaperError struct {
	Collection string
	Err        error
}

func (e ReaperError) Error() string {
	return fmt.Sprintf("reap %s: %v", e.Collection, e.Err)
}

func (e ReaperError) Unwrap() error { return e.Err }

// ErrAlreadyRunning is returned when another run holds the sync lock.
var ErrAlreadyRunning = errors.New("sync already running")

// IsFatal reports whether err terminates a run.
func IsFatal(err error) bool {
	var auth ExtractorAuthError
	if errors.As(err, &auth) {
		return true
	}
	var batch LoaderBatchError
	return errors.As(err, &batch)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}
