// Package report writes the per-run sync log in JSON and Markdown.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"clinicsync/pkg/domain"
)

// DatasetOutcome is the processing result of one dataset in a run.
type DatasetOutcome struct {
	Dataset  domain.Dataset `json:"dataset"`
	Outcome  string         `json:"outcome"`
	Rows     int            `json:"rows"`
	Dropped  int            `json:"dropped"`
	Hash     string         `json:"hash,omitempty"`
	Duration string         `json:"duration,omitempty"`
}

// Dataset outcomes.
const (
	OutcomeLoaded    = "loaded"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Report is the sync log of one run.
type Report struct {
	Timestamp  time.Time         `json:"timestamp"`
	RunID      string            `json:"run_id"`
	Status     domain.RunStatus  `json:"status"`
	Statistics domain.Statistics `json:"statistics"`
	Errors     []string          `json:"errors"`
	Datasets   []DatasetOutcome  `json:"datasets,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Paths are the files written for one report.
type Paths struct {
	JSON     string
	Markdown string
}

// Write renders r into dir as sync_<runID>.json and sync_<runID>.md.
func Write(dir string, r Report) (Paths, error) {
	if r.RunID == "" {
		return Paths{}, fmt.Errorf("report: run id is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("report dir: %w", err)
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	paths := Paths{
		JSON:     filepath.Join(dir, "sync_"+r.RunID+".json"),
		Markdown: filepath.Join(dir, "sync_"+r.RunID+".md"),
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return Paths{}, fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(paths.JSON, append(raw, '\n'), 0o644); err != nil {
		return Paths{}, fmt.Errorf("write report: %w", err)
	}
	if err := os.WriteFile(paths.Markdown, []byte(Markdown(r)), 0o644); err != nil {
		return Paths{}, fmt.Errorf("write report: %w", err)
	}
	return paths, nil
}

// Markdown renders the human-readable form of r.
func Markdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Sync report %s\n\n", r.RunID)
	fmt.Fprintf(&b, "- Timestamp: %s\n", r.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Status: **%s**\n", r.Status)
	fmt.Fprintf(&b, "- Errors: %d\n\n", len(r.Errors))

	s := r.Statistics
	b.WriteString("## Records\n\n")
	table(&b, [][2]string{
		{"users", strconv.Itoa(s.Users)},
		{"health_records", strconv.Itoa(s.HealthRecords)},
		{"financial_records", strconv.Itoa(s.FinancialRecords)},
		{"appointments", strconv.Itoa(s.Appointments)},
		{"growth_tracking", strconv.Itoa(s.GrowthTracking)},
		{"duplicates_removed", strconv.Itoa(s.DuplicatesRemoved)},
	})

	b.WriteString("\n## Bright Futures\n\n")
	table(&b, [][2]string{
		{"bf_visits", strconv.Itoa(s.BFVisits)},
		{"bf_vaccinations", strconv.Itoa(s.BFVaccinations)},
		{"bf_screenings", strconv.Itoa(s.BFScreenings)},
		{"bf_milestones", strconv.Itoa(s.BFMilestones)},
	})

	if len(r.Datasets) > 0 {
		b.WriteString("\n## Datasets\n\n| Dataset | Outcome | Rows | Dropped |\n|---|---|---|---|\n")
		ds := append([]DatasetOutcome(nil), r.Datasets...)
		sort.SliceStable(ds, func(i, j int) bool { return ds[i].Dataset < ds[j].Dataset })
		for _, d := range ds {
			fmt.Fprintf(&b, "| %s | %s | %d | %d |\n", d.Dataset, d.Outcome, d.Rows, d.Dropped)
		}
	}

	if len(r.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(e, "\n", " "))
		}
	}
	return b.String()
}

func table(b *strings.Builder, rows [][2]string) {
	b.WriteString("| Collection | Count |\n|---|---|\n")
	for _, row := range rows {
		fmt.Fprintf(b, "| %s | %s |\n", row[0], row[1])
	}
}
