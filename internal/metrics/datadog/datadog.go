// Package datadog sends run metrics to a DogStatsD agent. Labels become
// tags, counters are counts and phase latencies are distributions.
package datadog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/DataDog/datadog-go/v5/statsd"

	"mergeflow/internal/metrics"
)

// Config selects the agent and the tags shared by every metric.
type Config struct {
	// Addr is host:port (UDP) or unix:///path/to/socket.
	Addr      string
	Namespace string
	// GlobalTags are "key:value" strings, e.g. "env:prod".
	GlobalTags []string
}

// Backend implements metrics.Backend. It is single-use: Flush closes the
// client, matching one Reporter per run.
type Backend struct {
	client statsd.ClientInterface
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend dials the agent in cfg.Addr.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("datadog: agent address is required")
	}
	opts := []statsd.Option{statsd.WithoutTelemetry()}
	if cfg.Namespace != "" {
		ns := cfg.Namespace
		if !strings.HasSuffix(ns, ".") {
			ns += "."
		}
		opts = append(opts, statsd.WithNamespace(ns))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}
	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: %w", err)
	}
	return &Backend{client: c}, nil
}

// IncCounter sends a count; fractional deltas are truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	_ = b.client.Count(name, int64(delta), tags(labels), 1)
}

// ObserveHistogram sends a distribution so percentiles aggregate across runs.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	_ = b.client.Distribution(name, value, tags(labels), 1)
}

// Flush sends what is buffered and closes the client.
func (b *Backend) Flush() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("datadog: %w", err)
	}
	return nil
}

// tags renders labels as sorted "key:value" tags. Characters DogStatsD uses
// as separators are replaced by '_'.
func tags(labels metrics.Labels) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	for k, v := range labels {
		out = append(out, tagSafe.Replace(strings.ToLower(k))+":"+tagSafe.Replace(v))
	}
	sort.Strings(out)
	return out
}

var tagSafe = strings.NewReplacer("|", "_", ",", "_", "#", "_", " ", "_", "\n", "_")
