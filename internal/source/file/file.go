// Package file extracts rows from CSV, JSON/NDJSON and XLSX inputs stored
// locally or in object storage.
package file

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/datasource"
	dsfile "mergeflow/internal/datasource/file"
	"mergeflow/internal/ddl"
	"mergeflow/internal/objectstore"
	csvparser "mergeflow/internal/parser/csv"
	jsonparser "mergeflow/internal/parser/json"
	"mergeflow/internal/probe"
	"mergeflow/internal/source"
	"mergeflow/internal/template"
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// inspectSample bounds the rows read by Inspect.
const inspectSample = 1000

var errStop = errors.New("stop")

func init() {
	source.Register(config.TypeFile, func(ctx context.Context, cfg config.Source, env source.Env) (source.Source, error) {
		return New(cfg, env)
	})
}

// Source reads every configured path in order. With a single path, pages
// are numbered like a direct database extract; with several, file i becomes
// slice i and its pages sub-slices.
type Source struct {
	cfg     config.Source
	env     source.Env
	paths   []string
	dynamic template.Params
}

var (
	_ source.Source      = (*Source)(nil)
	_ source.ParamSetter = (*Source)(nil)
)

// New resolves the input list. paths_file entries follow path and paths.
func New(cfg config.Source, env source.Env) (*Source, error) {
	paths := cfg.File.AllPaths()
	if cfg.File.PathsFile != "" {
		list, err := dsfile.ReadList(cfg.File.PathsFile)
		if err != nil {
			return nil, apperr.Config("source.file", "read paths_file: %v", err)
		}
		paths = append(paths, list...)
	}
	if len(paths) == 0 {
		return nil, apperr.Config("source.file", "file.path, file.paths or file.paths_file is required")
	}
	for _, p := range paths {
		if objectstore.IsURI(p) && env.Objects == nil {
			return nil, apperr.Config("source.file", "%s needs an s3 configuration", p)
		}
	}
	return &Source{cfg: cfg, env: env, paths: paths}, nil
}

func (s *Source) SetDynamicParams(p template.Params) { s.dynamic = p }

func (s *Source) Close() error { return nil }

// Paths returns the resolved inputs, before templating.
func (s *Source) Paths() []string { return s.paths }

// Format reports the configured format, or the one implied by the path's
// extension.
func Format(configured, path string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(configured))
	if f == "" {
		name := path
		if objectstore.IsURI(path) {
			name = strings.SplitN(path, "?", 2)[0]
		}
		if datasource.Compressed(name) {
			name = name[:len(name)-len(".gz")]
		}
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".csv", ".txt", ".tsv":
			f = FormatCSV
		case ".json", ".ndjson", ".jsonl":
			f = FormatJSON
		case ".xlsx":
			f = FormatXLSX
		default:
			return "", apperr.Config("source.file", "cannot tell the format of %s; set file.format", path)
		}
	}
	switch f {
	case "ndjson":
		return FormatJSON, nil
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", apperr.Config("source.file", "unsupported format %q", configured)
}

// Extract reads every input. Each file's column types are inferred from its
// first page and applied to the pages after it.
func (s *Source) Extract(ctx context.Context) (*batch.Manifest, error) {
	m := &batch.Manifest{}
	chunked := s.cfg.ChunkSize > 0
	for i, raw := range s.paths {
		iter := 0
		if len(s.paths) > 1 {
			iter = i + 1
		}
		var (
			j     int
			typed []probe.Column
		)
		err := s.read(ctx, raw, s.cfg.ChunkSize, func(b *batch.Batch) error {
			if b.Len() == 0 {
				return nil
			}
			if typed == nil {
				typed = probe.Infer(b)
			} else {
				apply(b, typed)
			}
			j++
			return s.env.Emit(m, source.Paged(iter, j, chunked), b)
		})
		if err != nil {
			return nil, err
		}
		s.env.Logger().Debug("source: file read", "path", raw, "pages", j)
	}
	s.env.Logger().Info("source: extracted", "kind", config.TypeFile, "files", len(s.paths), "slices", m.Len(), "rows", m.Rows())
	return m, nil
}

// apply converts the values of b to previously inferred column types.
func apply(b *batch.Batch, typed []probe.Column) {
	if len(typed) != len(b.Columns) {
		probe.Infer(b)
		return
	}
	for i, col := range typed {
		b.Columns[i].Type = col.Type
		for _, row := range b.Rows {
			row[i] = probe.Convert(col, row[i])
		}
	}
}

// Inspect infers the column types of the first input from a sample.
func (s *Source) Inspect(ctx context.Context) (ddl.TableDef, error) {
	var sample *batch.Batch
	err := s.read(ctx, s.paths[0], inspectSample, func(b *batch.Batch) error {
		sample = b
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return ddl.TableDef{}, err
	}
	if sample == nil {
		return ddl.TableDef{}, apperr.Config("source.file", "%s has no columns to inspect", s.paths[0])
	}
	probe.Infer(sample)
	return sample.Schema(s.cfg.Schema, s.cfg.Table), nil
}

func (s *Source) read(ctx context.Context, raw string, pageSize int, fn func(*batch.Batch) error) error {
	path, err := template.Render(raw, template.Merge(s.cfg.Queries.ExtractParams, s.dynamic))
	if err != nil {
		return err
	}
	format, err := Format(s.cfg.File.Format, path)
	if err != nil {
		return err
	}
	rc, err := datasource.For(path, s.env.Objects).Open(ctx)
	if err != nil {
		return apperr.Connection("source.file open", err)
	}
	defer rc.Close()

	switch format {
	case FormatJSON:
		err = jsonparser.Read(ctx, rc, jsonOptions(s.cfg.File), pageSize, fn)
	case FormatXLSX:
		err = readXLSX(ctx, rc, s.cfg.File, pageSize, fn)
	default:
		var opt csvparser.Options
		if opt, err = csvOptions(s.cfg.File, s.env, path); err == nil {
			err = csvparser.Read(ctx, rc, opt, pageSize, fn)
		}
	}
	if err != nil && !errors.Is(err, errStop) && apperr.KindOf(err) == 0 {
		return fmt.Errorf("source.file: %s: %w", path, err)
	}
	return err
}

func jsonOptions(f config.FileSource) jsonparser.Options {
	return jsonparser.Options{
		RecordsPath:      f.RecordsPath,
		HeaderMap:        f.HeaderMap,
		NormalizeHeaders: f.NormalizeHeaders,
		Flatten:          f.Flatten,
	}
}

func csvOptions(f config.FileSource, env source.Env, path string) (csvparser.Options, error) {
	opt := csvparser.Options{
		HasHeader:        f.Header(),
		TrimSpace:        f.TrimSpace,
		LazyQuotes:       f.LazyQuotes,
		Encoding:         f.Encoding,
		NormalizeHeaders: f.NormalizeHeaders,
		HeaderMap:        f.HeaderMap,
	}
	switch d := f.Delimiter; {
	case d == "" && strings.EqualFold(filepath.Ext(strings.TrimSuffix(path, ".gz")), ".tsv"):
		opt.Comma = '\t'
	case d == `\t`:
		opt.Comma = '\t'
	case d != "":
		r, n := utf8.DecodeRuneInString(d)
		if n != len(d) {
			return opt, apperr.Config("source.file", "delimiter must be a single character, got %q", d)
		}
		opt.Comma = r
	}
	for _, r := range f.Replace {
		opt.Scrub = append(opt.Scrub, csvparser.Replacement{From: r.From, To: r.To})
	}
	if f.SkipBadRows {
		log := env.Logger()
		opt.OnBadRow = func(line int, err error) {
			log.Warn("source: skipping bad row", "path", path, "line", line, "err", err)
		}
	}
	return opt, nil
}
