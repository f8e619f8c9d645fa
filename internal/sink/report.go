package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/logging"
	"mergeflow/internal/merge"
)

// DefaultSheet names the worksheet of xlsx reports.
const DefaultSheet = "Sheet1"

// Uploader copies finished files to object storage.
// *objectstore.Store implements it.
type Uploader interface {
	UploadAll(ctx context.Context, files []string, prefix string) ([]string, error)
}

// Report renders the whole manifest into one report file, replacing any
// file of the same name.
type Report struct {
	cfg    config.Report
	path   string
	upload Uploader
	log    *slog.Logger

	metrics merge.Metrics
	uri     string
}

// NewReport returns the REPORT target for cfg. up may be nil when no upload
// is configured.
func NewReport(cfg config.Report, names Names, up Uploader, log *slog.Logger) *Report {
	if log == nil {
		log = logging.Discard()
	}
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = config.DefaultReportFormat
	}
	cfg.Format = format
	name := names.Expand(cfg.Filename)
	if name == "" {
		name = config.DefaultReportName
	}
	if !strings.HasSuffix(strings.ToLower(name), "."+format) {
		name += "." + format
	}
	return &Report{cfg: cfg, path: filepath.Join(cfg.Path, name), upload: up, log: log}
}

// Path returns the report file path.
func (r *Report) Path() string { return r.path }

// URI returns the uploaded object, if any.
func (r *Report) URI() string { return r.uri }

// Metrics reports rows written as inserted.
func (r *Report) Metrics() merge.Metrics { return r.metrics }

func (r *Report) header() bool {
	if r.cfg.Header != nil {
		return *r.cfg.Header
	}
	return r.cfg.Format != "xlsx"
}

// Load writes the report and uploads it when configured.
func (r *Report) Load(ctx context.Context, m *batch.Manifest) error {
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sink: create dir %s: %w", dir, err)
		}
	}
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sink: replace %s: %w", r.path, err)
	}

	var err error
	switch r.cfg.Format {
	case "csv", "txt":
		err = r.writeCSV(ctx, m)
	case "xlsx":
		err = r.writeXLSX(ctx, m)
	default:
		return apperr.Config("sink.report", "unknown report format %q", r.cfg.Format)
	}
	if err != nil {
		return err
	}
	r.log.Info("sink: report written", "path", r.path, "rows", r.metrics.Inserted)

	if r.cfg.Upload == "" {
		return nil
	}
	if r.upload == nil {
		return apperr.Config("sink.report", "report.upload needs s3 settings")
	}
	uris, err := r.upload.UploadAll(ctx, []string{r.path}, r.cfg.Upload)
	if err != nil {
		return apperr.Connection("sink.report", err)
	}
	r.uri = uris[0]
	r.log.Info("sink: report uploaded", "uri", r.uri)
	return nil
}

// columns returns the header row: the batch names, or columns_names when
// configured.
func (r *Report) columns(b *batch.Batch) ([]string, error) {
	if len(r.cfg.ColumnsNames) == 0 {
		return b.Names(), nil
	}
	if len(r.cfg.ColumnsNames) != len(b.Columns) {
		return nil, apperr.Config("sink.report", "columns_names has %d names for %d columns", len(r.cfg.ColumnsNames), len(b.Columns))
	}
	return r.cfg.ColumnsNames, nil
}

func (r *Report) writeCSV(ctx context.Context, m *batch.Manifest) (err error) {
	fh, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("sink: create %s: %w", r.path, err)
	}
	defer func() {
		if cerr := fh.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("sink: close %s: %w", r.path, cerr)
		}
	}()

	w := csv.NewWriter(fh)
	w.Comma = delimiter(r.cfg.Delimiter)
	first := true
	err = each(ctx, m, func(b *batch.Batch) error {
		if first {
			first = false
			cols, err := r.columns(b)
			if err != nil {
				return err
			}
			if r.header() {
				if err := w.Write(cols); err != nil {
					return err
				}
			}
		}
		for _, row := range b.Rows {
			if err := w.Write(record(row)); err != nil {
				return err
			}
		}
		count(&r.metrics, b.Len())
		return nil
	})
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	if err != nil && apperr.KindOf(err) == 0 {
		err = fmt.Errorf("sink: write %s: %w", r.path, err)
	}
	return err
}

func (r *Report) writeXLSX(ctx context.Context, m *batch.Manifest) error {
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := r.cfg.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}
	if sheet != DefaultSheet {
		if err := wb.SetSheetName(DefaultSheet, sheet); err != nil {
			return fmt.Errorf("sink: sheet %q: %w", sheet, err)
		}
	}
	sw, err := wb.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("sink: stream %s: %w", r.path, err)
	}

	line := 1
	put := func(vals []any) error {
		cell, err := excelize.CoordinatesToCellName(1, line)
		if err != nil {
			return err
		}
		line++
		return sw.SetRow(cell, vals)
	}
	first := true
	err = each(ctx, m, func(b *batch.Batch) error {
		if first {
			first = false
			cols, err := r.columns(b)
			if err != nil {
				return err
			}
			if r.header() {
				hdr := make([]any, len(cols))
				for i, c := range cols {
					hdr[i] = c
				}
				if err := put(hdr); err != nil {
					return err
				}
			}
		}
		for _, row := range b.Rows {
			if err := put(cells(row)); err != nil {
				return err
			}
		}
		count(&r.metrics, b.Len())
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) != 0 {
			return err
		}
		return fmt.Errorf("sink: write %s: %w", r.path, err)
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("sink: flush %s: %w", r.path, err)
	}
	if err := wb.SaveAs(r.path); err != nil {
		return fmt.Errorf("sink: save %s: %w", r.path, err)
	}
	return nil
}

// cells converts row values to types the xlsx writer renders natively.
func cells(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch t := v.(type) {
		case []byte:
			out[i] = string(t)
		case *time.Time:
			if t != nil {
				out[i] = *t
			}
		default:
			out[i] = v
		}
	}
	return out
}
