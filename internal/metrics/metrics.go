// Package metrics records ingestion counters behind a pluggable backend.
//
// The default backend discards everything, so instrumented code never has to
// check whether metrics are configured. Concrete systems live in subpackages
// (see prompush).
package metrics

import "time"

// Labels are key/value pairs attached to a metric.
type Labels map[string]string

// Backend is implemented by metric systems.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs b. Passing nil restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordFile counts one finished input file and its duration.
// kind is the loader ("pheno", "code", "data", "gp_clinical", ...).
func RecordFile(kind string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"kind": kind, "status": status}
	backend.IncCounter("ukbsql_files_total", 1, lbls)
	backend.ObserveHistogram("ukbsql_file_duration_seconds", d.Seconds(), lbls)
}

// RecordRows adds delta rows of the given kind, e.g. "facts", "missing",
// "values", "participants".
func RecordRows(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("ukbsql_rows_total", float64(delta), Labels{"kind": kind})
}
