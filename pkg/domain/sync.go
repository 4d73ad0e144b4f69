package domain

import "time"

// RunStatus is the overall outcome of a pipeline run.
type RunStatus string

// Run outcomes.
const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailure RunStatus = "failure"
)

// ExitCode maps a run outcome to the CLI exit code.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunSuccess:
		return 0
	case RunPartial:
		return 2
	default:
		return 1
	}
}

// MaxRunHistory bounds the ring of run summaries kept in SyncStatus.
const MaxRunHistory = 10

// DatasetCheckpoint records the last successful load of one dataset.
type DatasetCheckpoint struct {
	LastHash     string    `json:"last_hash"`
	LastRowCount int       `json:"last_row_count"`
	LastRunID    string    `json:"last_run_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Statistics are the per-run document counters reported to operators.
type Statistics struct {
	Users             int `json:"users"`
	HealthRecords     int `json:"health_records"`
	FinancialRecords  int `json:"financial_records"`
	Appointments      int `json:"appointments"`
	GrowthTracking    int `json:"growth_tracking"`
	BFVisits          int `json:"bf_visits"`
	BFVaccinations    int `json:"bf_vaccinations"`
	BFScreenings      int `json:"bf_screenings"`
	BFMilestones      int `json:"bf_milestones"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// RunSummary is one entry of the SyncStatus run ring.
type RunSummary struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Status     RunStatus  `json:"status"`
	Statistics Statistics `json:"statistics"`
	ErrorCount int        `json:"error_count"`
}

// SyncStatus is the global sync bookkeeping singleton.
type SyncStatus struct {
	LastSuccessfulRun *time.Time                    `json:"last_successful_run,omitempty"`
	Datasets          map[Dataset]DatasetCheckpoint `json:"datasets"`
	Runs              []RunSummary                  `json:"runs"`
}

// NewSyncStatus returns an empty status.
func NewSyncStatus() SyncStatus {
	return SyncStatus{Datasets: make(map[Dataset]DatasetCheckpoint)}
}

// LastHash returns the recorded hash for a dataset, or "" when never loaded.
func (s SyncStatus) LastHash(ds Dataset) string {
	return s.Datasets[ds].LastHash
}

// RecordRun appends a summary, keeping at most MaxRunHistory entries (newest last).
func (s *SyncStatus) RecordRun(summary RunSummary) {
	s.Runs = append(s.Runs, summary)
	if len(s.Runs) > MaxRunHistory {
		s.Runs = append([]RunSummary(nil), s.Runs[len(s.Runs)-MaxRunHistory:]...)
	}
	if summary.Status == RunSuccess {
		finished := summary.FinishedAt
		s.LastSuccessfulRun = &finished
	}
}

// ClearHashes forgets every dataset hash so the next run reloads everything.
func (s *SyncStatus) ClearHashes() {
	for ds, cp := range s.Datasets {
		cp.LastHash = ""
		s.Datasets[ds] = cp
	}
}
