// Package source extracts rows from the configured origin into a
// batch.Manifest. Concrete kinds (DATABASE, FILE, API, EMAIL) live in
// subpackages and register themselves at init; import source/all to link
// every built-in kind.
package source

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/ddl"
	"mergeflow/internal/fingerprint"
	"mergeflow/internal/logging"
	"mergeflow/internal/objectstore"
	"mergeflow/internal/spill"
	"mergeflow/internal/template"
)

// Source produces the batches of one run.
type Source interface {
	// Extract reads every chunk. In spill mode all files are written before
	// it returns.
	Extract(ctx context.Context) (*batch.Manifest, error)
	// Inspect reports the column layout of the source, used to create a
	// missing target table.
	Inspect(ctx context.Context) (ddl.TableDef, error)
	Close() error
}

// ParamSetter is implemented by sources whose templates accept parameters
// computed at run time (target deltas).
type ParamSetter interface {
	SetDynamicParams(p template.Params)
}

// Env carries the run-scoped collaborators a source needs.
type Env struct {
	Pipeline string
	// Spill, when non-nil, writes each batch to disk instead of keeping it
	// in the manifest.
	Spill *spill.Dir
	// Stamp, when non-nil, adds the control columns to each batch.
	Stamp *fingerprint.Fingerprinter
	// Objects serves s3:// inputs. Nil when no object store is configured.
	Objects *objectstore.Store
	Log     *slog.Logger
}

// Emit stamps b and records it in m under id, spilling when configured.
// Empty batches are dropped.
func (e Env) Emit(m *batch.Manifest, id batch.SliceID, b *batch.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if e.Stamp != nil {
		e.Stamp.Stamp(b)
	}
	if e.Spill != nil {
		if err := e.Spill.Spill(m, id, b); err != nil {
			return err
		}
		e.Logger().Debug("source: spilled", "slice", id.String(), "rows", b.Len())
		return nil
	}
	m.AddBatch(id, b)
	return nil
}

// Logger returns the env logger, or a discarding one.
func (e Env) Logger() *slog.Logger {
	if e.Log == nil {
		return logging.Discard()
	}
	return e.Log
}

// Factory builds a source for one configured kind.
type Factory func(ctx context.Context, cfg config.Source, env Env) (Source, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a source kind available to New. It is meant to be called
// from init; registering a kind twice replaces the earlier factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToUpper(kind)] = f
}

// Kinds lists the registered kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the source for cfg.Type.
func New(ctx context.Context, cfg config.Source, env Env) (Source, error) {
	kind := cfg.Kind()
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, apperr.Config("source.new", "unsupported source type %q (registered: %s)", cfg.Type, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg, env)
}

// Paged reports the slice ids for page j (1-based) of iteration i (1-based,
// 0 when not iterating). chunked says whether the source pages at all.
func Paged(i, j int, chunked bool) batch.SliceID {
	switch {
	case i > 0 && chunked:
		return batch.SliceID{Index: i, Sub: j}
	case i > 0:
		return batch.SliceID{Index: i}
	case chunked:
		return batch.SliceID{Index: j}
	default:
		return batch.Full
	}
}

// RowParams converts one row into template parameters keyed by column name.
func RowParams(b *batch.Batch, row []any) template.Params {
	p := make(template.Params, len(b.Columns))
	for i, c := range b.Columns {
		if i < len(row) {
			p[c.Name] = template.Stringify(row[i])
		}
	}
	return p
}
