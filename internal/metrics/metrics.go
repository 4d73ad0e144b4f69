// Package metrics records per-run counters and timings in a Prometheus registry
// and writes them to a node-exporter textfile at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinicsync"

// Recorder receives operation outcomes from pipeline components.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Nop discards observations.
type Nop struct{}

// Observe implements Recorder.
func (Nop) Observe(context.Context, string, bool, time.Duration) {}

// Registry owns the collectors of one run.
type Registry struct {
	reg *prometheus.Registry

	operations  *prometheus.HistogramVec
	results     *prometheus.CounterVec
	rows        *prometheus.CounterVec
	documents   *prometheus.CounterVec
	datasets    *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	runDuration prometheus.Gauge
	lastSuccess prometheus.Gauge
	runStatus   *prometheus.GaugeVec
}

// New builds a registry with every collector registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of pipeline operations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_results_total",
			Help:      "Pipeline operation outcomes.",
		}, []string{"operation", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows read from source revisions.",
		}, []string{"dataset", "outcome"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_written_total",
			Help:      "Documents written to the target store.",
		}, []string{"collection", "outcome"}),
		datasets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_total",
			Help:      "Datasets by processing outcome.",
		}, []string{"dataset", "outcome"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_removed_total",
			Help:      "Duplicate documents deleted by the reaper.",
		}, []string{"collection"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		runStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_status",
			Help:      "1 for the status of the last run, 0 otherwise.",
		}, []string{"status"}),
	}
	r.reg.MustRegister(r.operations, r.results, r.rows, r.documents, r.datasets,
		r.duplicates, r.runDuration, r.lastSuccess, r.runStatus)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Observe implements Recorder.
func (r *Registry) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// Rows counts parsed and dropped rows of one dataset.
func (r *Registry) Rows(dataset string, parsed, dropped int) {
	r.rows.WithLabelValues(dataset, "parsed").Add(float64(parsed))
	r.rows.WithLabelValues(dataset, "dropped").Add(float64(dropped))
}

// Documents counts created and updated documents of one collection.
func (r *Registry) Documents(collection string, created, updated int) {
	r.documents.WithLabelValues(collection, "created").Add(float64(created))
	r.documents.WithLabelValues(collection, "updated").Add(float64(updated))
}

// Dataset counts one dataset outcome (loaded, skipped, failed).
func (r *Registry) Dataset(dataset, outcome string) {
	r.datasets.WithLabelValues(dataset, outcome).Inc()
}

// Duplicates counts documents removed from a collection.
func (r *Registry) Duplicates(collection string, removed int) {
	r.duplicates.WithLabelValues(collection).Add(float64(removed))
}

// Run records the final status and duration of a run.
func (r *Registry) Run(status string, started, finished time.Time) {
	r.runDuration.Set(finished.Sub(started).Seconds())
	for _, s := range []string{"success", "partial", "failure"} {
		v := 0.0
		if s == status {
			v = 1
		}
		r.runStatus.WithLabelValues(s).Set(v)
	}
	if status == "success" {
		r.lastSuccess.Set(float64(finished.Unix()))
	}
}

// WriteTextfile writes the registry in text exposition format, replacing path atomically.
func (r *Registry) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
