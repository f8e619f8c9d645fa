// Package pipeline runs one configured pipeline end to end. The Controller
// walks the phases INIT, CONFIGURE_ENV, BUILD_SOURCE, BUILD_TARGET, EXTRACT,
// TRANSFORM, LOAD, REPORT_METRICS and DONE, printing a banner per phase.
// Metrics are always reported, also after a failed phase.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"mergeflow/internal/batch"
	"mergeflow/internal/logging"
	"mergeflow/internal/merge"
	"mergeflow/internal/metrics"
	"mergeflow/internal/source"
	"mergeflow/internal/transformer"
)

// Sink receives the transformed manifest. The merge engine and the file
// targets implement it.
type Sink interface {
	Load(ctx context.Context, m *batch.Manifest) error
	Metrics() merge.Metrics
}

// RunContext holds what one run shares across phases. It is created per run
// and passed down; nothing here is global.
type RunContext struct {
	ID      string
	Name    string
	Start   time.Time
	Log     *slog.Logger
	Out     io.Writer
	Metrics *metrics.Reporter
	Now     func() time.Time
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSource injects a source; BUILD_SOURCE is then skipped.
func WithSource(s source.Source) Option {
	return func(c *Controller) { c.src = s }
}

// WithSink injects a sink; BUILD_TARGET is then skipped.
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithTransformer replaces the configured transform steps.
func WithTransformer(t transformer.Transformer) Option {
	return func(c *Controller) { c.tr = t }
}

// WithLogger sets the run logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.rc.Log = l }
}

// WithOutput redirects banners and the final metrics (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(c *Controller) { c.rc.Out = w }
}

// WithReporter sets the metrics reporter. Without it the reporter is built
// from the metrics section of the pipeline.
func WithReporter(r *metrics.Reporter) Option {
	return func(c *Controller) { c.rc.Metrics = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.rc.Now = now }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(c *Controller) { c.rc.ID = id }
}

func newRunContext(name string) *RunContext {
	return &RunContext{Name: name, Out: os.Stdout, Now: time.Now}
}

// init fills what the options left unset.
func (rc *RunContext) init(logLevel, logFormat string) {
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	if rc.Log == nil {
		l, err := logging.New(os.Stderr, logLevel, logFormat)
		if err != nil {
			l, _ = logging.New(os.Stderr, "info", "text")
		}
		rc.Log = l
	}
	rc.Log = rc.Log.With("run_id", rc.ID, "pipeline", rc.Name)
	if rc.Out == nil {
		rc.Out = io.Discard
	}
	rc.Start = rc.Now()
}
