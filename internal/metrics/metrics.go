// Package metrics records operational metrics of pipeline runs.
//
// A Reporter is constructed per run and handed down explicitly; there is no
// process-wide backend. Concrete metric systems live in subpackages
// (prompush, datadog).
package metrics

import (
	"fmt"
	"strings"
	"time"
)

// Metric names emitted by Reporter.
const (
	StepTotal    = "mergeflow_step_total"
	StepDuration = "mergeflow_step_duration_seconds"
	RowsTotal    = "mergeflow_rows_total"
	BatchesTotal = "mergeflow_batches_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

// Nop returns a backend that discards everything.
func Nop() Backend { return nopBackend{} }

// Reporter binds a backend to one pipeline.
type Reporter struct {
	job     string
	backend Backend
}

// NewReporter returns a Reporter labelling metrics with job. A nil backend
// discards metrics.
func NewReporter(job string, b Backend) *Reporter {
	if b == nil {
		b = nopBackend{}
	}
	return &Reporter{job: job, backend: b}
}

// Step records the outcome and latency of one controller phase.
func (r *Reporter) Step(step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": r.job, "step": step, "status": status}
	r.backend.IncCounter(StepTotal, 1, lbls)
	r.backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// Rows increments the row counter of kind (inserted, updated, ...).
// Non-positive deltas are dropped.
func (r *Reporter) Rows(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	r.backend.IncCounter(RowsTotal, float64(delta), Labels{"job": r.job, "kind": kind})
}

// Batches increments the loaded batch counter.
func (r *Reporter) Batches(delta int64) {
	if delta <= 0 {
		return
	}
	r.backend.IncCounter(BatchesTotal, float64(delta), Labels{"job": r.job})
}

// Counts records every entry of a metrics map as a row counter. Keys ending
// in "_rows" are stripped of the suffix.
func (r *Reporter) Counts(m map[string]int64) {
	for k, v := range m {
		r.Rows(strings.TrimSuffix(k, "_rows"), v)
	}
}

// Flush delegates to the backend.
func (r *Reporter) Flush() error {
	if err := r.backend.Flush(); err != nil {
		return fmt.Errorf("metrics: flush: %w", err)
	}
	return nil
}
