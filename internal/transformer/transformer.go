// Package transformer rewrites an extracted manifest between EXTRACT and
// LOAD. Resident batches are changed in place; spill files are read, changed
// and written back under the same name.
package transformer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/fingerprint"
	"mergeflow/internal/logging"
	"mergeflow/internal/spill"
	"mergeflow/internal/transformer/builtin"
)

// Transformer turns one manifest into another.
type Transformer interface {
	Transform(ctx context.Context, m *batch.Manifest) (*batch.Manifest, error)
}

// Step changes a single batch. It may filter rows or rewrite values but
// keeps the column layout intact.
type Step interface {
	Apply(*batch.Batch) *batch.Batch
}

// Identity returns the manifest unchanged.
type Identity struct{}

func (Identity) Transform(_ context.Context, m *batch.Manifest) (*batch.Manifest, error) {
	return m, nil
}

// Chain is an ordered list of transformers.
type Chain []Transformer

func (c Chain) Transform(ctx context.Context, m *batch.Manifest) (*batch.Manifest, error) {
	out := m
	for _, t := range c {
		var err error
		if out, err = t.Transform(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Steps applies every step to every batch of the manifest in order. When
// Stamp is set the control columns are recomputed afterwards, since values
// feeding the fingerprint may have changed.
type Steps struct {
	Steps []Step
	Stamp *fingerprint.Fingerprinter
	Log   *slog.Logger
}

func (s Steps) Transform(ctx context.Context, m *batch.Manifest) (*batch.Manifest, error) {
	out := &batch.Manifest{}
	before := m.Rows()
	for _, e := range m.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Spilled() {
			out.AddBatch(e.ID, s.apply(e.Batch))
			continue
		}
		b, err := spill.Read(e.Path)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", e.ID, err)
		}
		b = s.apply(b)
		if err := spill.Write(e.Path, b); err != nil {
			return nil, fmt.Errorf("transform %s: %w", e.ID, err)
		}
		out.AddFile(e.ID, e.Path, b.Len())
	}
	if s.Log != nil {
		s.Log.Info("transform: done", "steps", len(s.Steps), "slices", out.Len(), "rows_in", before, "rows_out", out.Rows())
	}
	return out, nil
}

func (s Steps) apply(b *batch.Batch) *batch.Batch {
	for _, st := range s.Steps {
		b = st.Apply(b)
	}
	if s.Stamp != nil {
		b = s.Stamp.Stamp(b)
	}
	return b
}

// New builds the transformer for the configured steps. Without steps it
// logs a warning and returns Identity.
func New(list []config.Transform, stamp *fingerprint.Fingerprinter, log *slog.Logger) (Transformer, error) {
	if log == nil {
		log = logging.Discard()
	}
	if len(list) == 0 {
		log.Warn("transform: no transform configured, data passes through unchanged")
		return Identity{}, nil
	}
	steps := make([]Step, 0, len(list))
	for i, t := range list {
		st, err := step(t)
		if err != nil {
			return nil, apperr.Config("transformer", "transform[%d]: %v", i, err)
		}
		steps = append(steps, st)
	}
	return Steps{Steps: steps, Stamp: stamp, Log: log}, nil
}

func step(t config.Transform) (Step, error) {
	o := t.Options
	switch strings.ToLower(strings.TrimSpace(t.Kind)) {
	case "normalize":
		return builtin.Normalize{EmptyAsNull: o.Bool("empty_as_null", false)}, nil
	case "require":
		return builtin.Require{Fields: o.StringSlice("fields")}, nil
	case "coerce":
		return builtin.Coerce{Types: o.StringMap("types"), Layout: o.String("layout", "")}, nil
	case "dedupe", "dedup":
		return builtin.DeDup{
			Keys:         o.StringSlice("keys"),
			Policy:       o.String("policy", builtin.KeepLast),
			PreferFields: o.StringSlice("prefer_fields"),
		}, nil
	default:
		return nil, fmt.Errorf("unknown transform kind %q", t.Kind)
	}
}
