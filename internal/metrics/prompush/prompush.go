// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. A load is a batch job with no scrape endpoint, so the
// collected registry is pushed once when the run ends.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/roach88/ukbsql/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	files    *prometheus.CounterVec   // ukbsql_files_total
	duration *prometheus.HistogramVec // ukbsql_file_duration_seconds
	rows     *prometheus.CounterVec   // ukbsql_rows_total
}

// NewBackend constructs a backend pushing to gatewayURL under jobName
// (default "ukbsql").
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "ukbsql"
	}

	reg := prometheus.NewRegistry()
	files := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ukbsql_files_total",
			Help: "Input files processed, partitioned by loader kind and status.",
		},
		[]string{"kind", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ukbsql_file_duration_seconds",
			Help:    "Time spent loading one input file.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"kind", "status"},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ukbsql_rows_total",
			Help: "Rows emitted or skipped, by kind (facts, missing, values, participants, ...).",
		},
		[]string{"kind"},
	)

	for name, c := range map[string]prometheus.Collector{"files": files, "duration": duration, "rows": rows} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}

	return &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        reg,
		files:      files,
		duration:   duration,
		rows:       rows,
	}, nil
}

var _ metrics.Backend = (*Backend)(nil)

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "ukbsql_files_total":
		b.files.WithLabelValues(labels["kind"], labels["status"]).Add(delta)
	case "ukbsql_rows_total":
		b.rows.WithLabelValues(labels["kind"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "ukbsql_file_duration_seconds" {
		return
	}
	b.duration.WithLabelValues(labels["kind"], labels["status"]).Observe(value)
}

// Registry exposes the underlying registry, mainly for tests.
func (b *Backend) Registry() *prometheus.Registry {
	return b.reg
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
