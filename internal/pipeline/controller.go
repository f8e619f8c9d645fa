package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/fingerprint"
	"mergeflow/internal/merge"
	"mergeflow/internal/objectstore"
	"mergeflow/internal/sink"
	"mergeflow/internal/source"
	"mergeflow/internal/spill"
	"mergeflow/internal/storage"
	"mergeflow/internal/transformer"
)

// State is a controller phase.
type State string

const (
	StateInit          State = "INIT"
	StateConfigureEnv  State = "CONFIGURE_ENV"
	StateBuildSource   State = "BUILD_SOURCE"
	StateBuildTarget   State = "BUILD_TARGET"
	StateExtract       State = "EXTRACT"
	StateTransform     State = "TRANSFORM"
	StateLoad          State = "LOAD"
	StateReportMetrics State = "REPORT_METRICS"
	StateDone          State = "DONE"
)

var bannerText = map[State]string{
	StateInit:          "Initializing",
	StateConfigureEnv:  "Configuring environment",
	StateBuildSource:   "Building source",
	StateBuildTarget:   "Building target",
	StateExtract:       "Extracting",
	StateTransform:     "Transforming",
	StateLoad:          "Loading",
	StateReportMetrics: "Metrics",
}

// Controller runs one pipeline. It is not reusable: call Run once.
type Controller struct {
	cfg config.Pipeline
	rc  *RunContext

	src  source.Source
	sink Sink
	tr   transformer.Transformer

	state   State
	phase   int
	visited []State

	stamp   *fingerprint.Fingerprinter
	spill   *spill.Dir
	objects *objectstore.Store

	// target is the DATABASE driver opened in BUILD_TARGET; the engine is
	// built on it in LOAD once the tables are ensured.
	target storage.Driver
	desc   merge.Descriptor

	manifest  *batch.Manifest
	extracted int64
	final     map[string]int64
}

// New returns a controller for cfg.
func New(cfg config.Pipeline, opts ...Option) *Controller {
	c := &Controller{cfg: cfg, rc: newRunContext(cfg.Name)}
	for _, o := range opts {
		o(c)
	}
	c.rc.init(cfg.Log.Level, cfg.Log.Format)
	if c.rc.Metrics == nil {
		c.rc.Metrics = NewReporter(cfg.Metrics, cfg.Name, c.rc.Log)
	}
	return c
}

// RunID returns the run id.
func (c *Controller) RunID() string { return c.rc.ID }

// State returns the current phase.
func (c *Controller) State() State { return c.state }

// Visited lists the phases entered so far, in order.
func (c *Controller) Visited() []State { return append([]State(nil), c.visited...) }

// Metrics returns the final metrics map once Run has returned.
func (c *Controller) Metrics() map[string]int64 { return c.final }

func (c *Controller) enter(s State) {
	c.state = s
	c.visited = append(c.visited, s)
	if msg, ok := bannerText[s]; ok {
		banner(c.rc.Out, c.phase, msg)
		c.phase++
	}
}

// step enters s, runs fn and records its outcome.
func (c *Controller) step(ctx context.Context, s State, fn func(context.Context) error) error {
	c.enter(s)
	start := c.rc.Now()
	err := fn(ctx)
	c.rc.Metrics.Step(string(s), err, c.rc.Now().Sub(start))
	if err != nil {
		c.rc.Log.Error("pipeline: phase failed", "phase", string(s), "err", err)
	}
	return err
}

// Run executes every phase in order and stops at the first failure.
// REPORT_METRICS and DONE run on every exit path.
func (c *Controller) Run(ctx context.Context) (err error) {
	c.enter(StateInit)
	c.rc.Log.Info("pipeline: start", "source", c.cfg.Source.Kind(), "target", c.cfg.Target.Kind())
	defer func() {
		if r := c.finish(err); err == nil {
			err = r
		}
		c.close()
	}()

	if err := c.step(ctx, StateConfigureEnv, c.configure); err != nil {
		return err
	}
	if c.src == nil && !c.cfg.NoSource {
		if err := c.step(ctx, StateBuildSource, c.buildSource); err != nil {
			return err
		}
	}
	if c.sink == nil && !c.cfg.NoTarget {
		if err := c.step(ctx, StateBuildTarget, c.buildTarget); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		s  State
		fn func(context.Context) error
	}{
		{StateExtract, c.extract},
		{StateTransform, c.transform},
		{StateLoad, c.load},
	} {
		if err := c.step(ctx, p.s, p.fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) configure(ctx context.Context) error {
	issues := config.ValidatePipeline(c.cfg)
	config.LogWarnings(c.rc.Log, issues)
	if err := config.Errors(issues); err != nil {
		return err
	}
	if c.cfg.ControlColumns {
		labels := fingerprint.Labels{
			Fingerprint: c.cfg.ControlColumnsNames.Fingerprint,
			Timestamp:   c.cfg.ControlColumnsNames.Timestamp,
		}
		c.stamp = fingerprint.New(labels, c.cfg.IgnoreMD5Fields, c.rc.Now)
	}
	if c.cfg.SpillToDisk {
		d := &spill.Dir{Path: c.cfg.SpillDir, Pipeline: c.cfg.Name}
		if err := d.Prepare(c.rc.Log); err != nil {
			return err
		}
		if err := d.Clean(); err != nil {
			return err
		}
		c.spill = d
	}
	return nil
}

// store returns the object store, created on first use.
func (c *Controller) store() *objectstore.Store {
	if c.objects == nil {
		c.objects = objectstore.New(c.cfg.S3)
	}
	return c.objects
}

func (c *Controller) buildSource(ctx context.Context) error {
	env := source.Env{
		Pipeline: c.cfg.Name,
		Spill:    c.spill,
		Stamp:    c.stamp,
		Objects:  c.store(),
		Log:      c.rc.Log,
	}
	src, err := source.New(ctx, c.cfg.Source, env)
	if err != nil {
		return err
	}
	c.src = src
	return nil
}

func (c *Controller) buildTarget(ctx context.Context) error {
	t := c.cfg.Target
	names := sink.Names{RunID: c.rc.ID, Start: c.rc.Start}
	switch t.Kind() {
	case config.TypeDatabase:
		drv, err := storage.New(ctx, t.Storage())
		if err != nil {
			return err
		}
		c.target = drv
		c.desc = merge.NewDescriptor(c.cfg)
		if len(t.Deltas) == 0 {
			return nil
		}
		params, err := merge.Deltas(ctx, drv, c.desc, t.Deltas, c.rc.Log)
		if err != nil {
			return err
		}
		if ps, ok := c.src.(source.ParamSetter); ok {
			ps.SetDynamicParams(params)
		}
		return nil
	case config.TypeFile:
		c.sink = sink.NewFile(t.File, names, c.rc.Log)
		return nil
	case config.TypeReport:
		var up sink.Uploader
		if t.Report.Upload != "" {
			up = c.store()
		}
		c.sink = sink.NewReport(t.Report, names, up, c.rc.Log)
		return nil
	default:
		return apperr.Config("pipeline.target", "unsupported target type %q", t.Type)
	}
}

func (c *Controller) extract(ctx context.Context) error {
	if c.src == nil {
		c.rc.Log.Warn("pipeline: no source, nothing to extract")
		c.manifest = &batch.Manifest{}
		return nil
	}
	m, err := c.src.Extract(ctx)
	if err != nil {
		return err
	}
	c.manifest = m
	c.extracted = int64(m.Rows())
	c.rc.Log.Info("pipeline: extracted", "slices", m.Len(), "rows", c.extracted)

	if c.spill != nil && c.cfg.Archive.S3Prefix != "" {
		uris, err := c.store().UploadAll(ctx, m.Paths(), c.cfg.Archive.S3Prefix)
		if err != nil {
			return apperr.Connection("pipeline.archive", err)
		}
		c.rc.Log.Info("pipeline: spill archived", "objects", len(uris), "prefix", c.cfg.Archive.S3Prefix)
	}
	return nil
}

func (c *Controller) transform(ctx context.Context) error {
	tr := c.tr
	if tr == nil {
		var err error
		if tr, err = transformer.New(c.cfg.Transform, c.stamp, c.rc.Log); err != nil {
			return err
		}
	}
	m, err := tr.Transform(ctx, c.manifest)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	c.manifest = m
	return nil
}

func (c *Controller) load(ctx context.Context) error {
	if c.sink == nil && c.target != nil {
		desc := c.desc
		if c.cfg.AutoCreateTable {
			if c.src == nil {
				return apperr.Config("pipeline.load", "auto_create_table needs a source to inspect")
			}
			var err error
			desc, err = merge.EnsureTables(ctx, c.target, desc, c.src, c.cfg.Target.TargetTableDefinition, c.rc.Log)
			if err != nil {
				return err
			}
		}
		c.sink = merge.New(c.target, desc, c.rc.Log)
	}
	if c.sink == nil {
		c.rc.Log.Warn("pipeline: no target, load skipped")
		return nil
	}
	if err := c.sink.Load(ctx, c.manifest); err != nil {
		return err
	}
	c.rc.Metrics.Batches(int64(c.manifest.Len()))

	if c.spill != nil && c.cfg.ClearSpill {
		if err := c.spill.Clean(); err != nil {
			return err
		}
		c.rc.Log.Info("pipeline: spill files removed", "dir", c.spill.Path)
	}
	return nil
}

// finish reports metrics and prints the closing lines. It returns the
// metrics_out write error, if any.
func (c *Controller) finish(runErr error) error {
	c.enter(StateReportMetrics)
	var mm merge.Metrics
	if c.sink != nil {
		mm = c.sink.Metrics()
	}
	if c.manifest != nil && c.src != nil {
		mm.Total = c.extracted
	}
	c.final = mm.Map()
	printMetrics(c.rc.Out, c.final)

	c.rc.Metrics.Counts(c.final)
	if err := c.rc.Metrics.Flush(); err != nil {
		c.rc.Log.Warn("pipeline: metrics flush failed", "err", err)
	}

	var outErr error
	if path := c.cfg.Metrics.Out; path != "" {
		s := Summary{
			RunID:    c.rc.ID,
			Pipeline: c.rc.Name,
			Status:   "success",
			Started:  c.rc.Start,
			Seconds:  c.rc.Now().Sub(c.rc.Start).Round(time.Millisecond).Seconds(),
			Metrics:  c.final,
		}
		if runErr != nil {
			s.Status, s.Error = "failure", runErr.Error()
		}
		outErr = writeSummary(path, s)
	}

	c.state = StateDone
	c.visited = append(c.visited, StateDone)
	finish(c.rc.Out, c.rc)
	if runErr != nil {
		c.rc.Log.Error("pipeline: failed", "kind", apperr.KindOf(runErr).String(), "err", runErr)
	} else {
		c.rc.Log.Info("pipeline: done", "metrics", c.final)
	}
	return outErr
}

func (c *Controller) close() {
	var errs []error
	if c.src != nil {
		errs = append(errs, c.src.Close())
	}
	if c.target != nil {
		errs = append(errs, c.target.Close())
	}
	if err := errors.Join(errs...); err != nil {
		c.rc.Log.Warn("pipeline: close", "err", err)
	}
}
