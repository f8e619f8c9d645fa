// Package database extracts rows from a relational source through any
// registered storage driver.
package database

import (
	"context"
	"errors"
	"fmt"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/ddl"
	"mergeflow/internal/source"
	"mergeflow/internal/storage"
	"mergeflow/internal/template"
)

func init() {
	source.Register(config.TypeDatabase, func(ctx context.Context, cfg config.Source, env source.Env) (source.Source, error) {
		return New(ctx, cfg, env)
	})
}

// openDriver is a test seam over storage.New.
var openDriver = storage.New

var errStop = errors.New("stop")

// Source runs queries.extract, directly or once per queries.iterate row.
type Source struct {
	cfg     config.Source
	env     source.Env
	drv     storage.Driver
	dynamic template.Params
}

var (
	_ source.Source      = (*Source)(nil)
	_ source.ParamSetter = (*Source)(nil)
)

// New opens the source connection.
func New(ctx context.Context, cfg config.Source, env source.Env) (*Source, error) {
	if cfg.Queries.Extract == "" {
		return nil, apperr.Config("source.database", "queries.extract is required")
	}
	drv, err := openDriver(ctx, cfg.Storage())
	if err != nil {
		return nil, err
	}
	return NewWithDriver(drv, cfg, env), nil
}

// NewWithDriver wraps an already open driver. The source takes ownership.
func NewWithDriver(drv storage.Driver, cfg config.Source, env source.Env) *Source {
	return &Source{cfg: cfg, env: env, drv: drv}
}

func (s *Source) SetDynamicParams(p template.Params) { s.dynamic = p }

func (s *Source) Close() error { return s.drv.Close() }

func (s *Source) params() template.Params {
	return template.Merge(s.cfg.Queries.ExtractParams, s.dynamic)
}

// Extract runs the configured mode. Pages with no rows are skipped.
func (s *Source) Extract(ctx context.Context) (*batch.Manifest, error) {
	m := &batch.Manifest{}
	if s.cfg.Queries.Iterate != "" {
		return m, s.iterate(ctx, m)
	}

	q, err := template.Render(s.cfg.Queries.Extract, s.params())
	if err != nil {
		return nil, err
	}
	page := s.cfg.ChunkSize
	if _, err := s.stream(ctx, m, q, page, 0); err != nil {
		return nil, err
	}
	s.env.Logger().Info("source: extracted", "kind", config.TypeDatabase, "slices", m.Len(), "rows", m.Rows())
	return m, nil
}

func (s *Source) iterate(ctx context.Context, m *batch.Manifest) error {
	base := s.params()
	iq, err := template.Render(s.cfg.Queries.Iterate, base)
	if err != nil {
		return err
	}
	params, err := s.drv.Query(ctx, iq)
	if err != nil {
		return s.fail("iterate", err)
	}
	s.env.Logger().Info("source: iterating", "params", params.Len())

	page := s.cfg.ChunkSize
	if page <= 0 {
		page = config.DefaultIterPageSize
	}
	for i, row := range params.Rows {
		q, err := template.Render(s.cfg.Queries.Extract, template.Merge(base, source.RowParams(params, row)))
		if err != nil {
			return err
		}
		j, err := s.stream(ctx, m, q, page, i+1)
		if err != nil {
			return err
		}
		s.env.Logger().Debug("source: iteration done", "index", i+1, "pages", j)
	}
	s.env.Logger().Info("source: extracted", "kind", config.TypeDatabase, "slices", m.Len(), "rows", m.Rows())
	return nil
}

// stream emits every page of q under iteration i (0 when not iterating)
// and returns the number of pages read. Driver errors are classified, emit
// errors are returned as is.
func (s *Source) stream(ctx context.Context, m *batch.Manifest, q string, page, i int) (int, error) {
	var (
		j       int
		emitErr error
	)
	err := s.drv.Stream(ctx, q, page, func(b *batch.Batch) error {
		j++
		emitErr = s.env.Emit(m, source.Paged(i, j, i > 0 || page > 0), b)
		return emitErr
	})
	switch {
	case emitErr != nil:
		return j, emitErr
	case err != nil && i > 0:
		return j, s.fail(fmt.Sprintf("iteration %d", i), err)
	case err != nil:
		return j, s.fail("extract", err)
	}
	return j, nil
}

// fail keeps classified errors and treats anything else coming from the
// driver as a connection failure.
func (s *Source) fail(op string, err error) error {
	if apperr.KindOf(err) != 0 {
		return err
	}
	return apperr.Connection("source.database "+op, err)
}

// Inspect describes source.schema/source.table. Without a table the
// extract query itself is run and the first page's column types are used.
func (s *Source) Inspect(ctx context.Context) (ddl.TableDef, error) {
	if s.cfg.Table != "" {
		def, err := storage.Describe(ctx, s.drv, s.cfg.Schema, s.cfg.Table)
		if err != nil {
			return def, s.fail("inspect", err)
		}
		return def, nil
	}
	if s.cfg.Queries.Iterate != "" {
		return ddl.TableDef{}, apperr.Config("source.database", "inspect of an iterated source needs source.table")
	}
	q, err := template.Render(s.cfg.Queries.Extract, s.params())
	if err != nil {
		return ddl.TableDef{}, err
	}
	var first *batch.Batch
	err = s.drv.Stream(ctx, q, 1, func(b *batch.Batch) error {
		first = b
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return ddl.TableDef{}, s.fail("inspect", err)
	}
	def := first.Schema(s.cfg.Schema, s.cfg.Table)
	for _, c := range def.Columns {
		if c.Type.Name == "" {
			return def, apperr.UnsupportedType("source.database inspect", "column %q has no reported type", c.Name)
		}
	}
	return def, nil
}
