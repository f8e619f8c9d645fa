package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mergeflow/internal/config"
	"mergeflow/internal/metrics"
	"mergeflow/internal/metrics/datadog"
	"mergeflow/internal/metrics/prompush"
)

// ruleWidth is the width of the banner rules.
const ruleWidth = 129

func rule(w io.Writer) { fmt.Fprintln(w, strings.Repeat("-", ruleWidth)) }

// banner prints the phase header: a rule, "[NN]: MESSAGE", a rule.
func banner(w io.Writer, n int, msg string) {
	rule(w)
	fmt.Fprintf(w, "[%02d]: %s\n", n, strings.ToUpper(msg))
	rule(w)
}

// finish prints the closing runtime line and DONE!.
func finish(w io.Writer, rc *RunContext) {
	rule(w)
	fmt.Fprintf(w, "[%s]%s runtime: %.2f seconds\n", rc.ID, rc.Name, rc.Now().Sub(rc.Start).Seconds())
	rule(w)
	fmt.Fprintln(w, "DONE!")
}

// printMetrics writes one "key: value" line per counter in key order.
func printMetrics(w io.Writer, m map[string]int64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %d\n", k, m[k])
	}
}

// NewReporter builds the reporter for cfg. A backend that cannot be
// initialized is logged and replaced by the no-op backend, so metrics never
// fail a run.
func NewReporter(cfg config.Metrics, pipeline string, log *slog.Logger) *metrics.Reporter {
	job := cfg.Job
	if job == "" {
		job = pipeline
	}
	var (
		b   metrics.Backend
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return metrics.NewReporter(job, nil)
	case "pushgateway":
		b, err = prompush.NewBackend(job, cfg.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{Addr: cfg.DatadogAddr, Namespace: cfg.Namespace, GlobalTags: cfg.Tags})
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		log.Warn("metrics: backend unavailable, metrics disabled", "backend", cfg.Backend, "err", err)
		return metrics.NewReporter(job, nil)
	}
	log.Info("metrics: backend ready", "backend", cfg.Backend, "job", job)
	return metrics.NewReporter(job, b)
}

// Summary is the document written to metrics_out.
type Summary struct {
	RunID    string           `json:"run_id"`
	Pipeline string           `json:"pipeline"`
	Status   string           `json:"status"`
	Error    string           `json:"error,omitempty"`
	Started  time.Time        `json:"started"`
	Seconds  float64          `json:"seconds"`
	Metrics  map[string]int64 `json:"metrics"`
}

// writeSummary writes s as indented JSON to path.
func writeSummary(path string, s Summary) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("metrics_out: %w", err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("metrics_out: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("metrics_out: %w", err)
	}
	return nil
}
