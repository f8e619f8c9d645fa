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

	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/logging"
	"mergeflow/internal/merge"
)

// File appends every row to one CSV file. The header is written only when
// the file is created.
type File struct {
	path   string
	comma  rune
	header bool
	log    *slog.Logger

	metrics merge.Metrics
}

// NewFile returns the FILE target for cfg. The path may use {PID} and
// {YYYYMMDD}.
func NewFile(cfg config.FileTarget, names Names, log *slog.Logger) *File {
	if log == nil {
		log = logging.Discard()
	}
	return &File{
		path:   names.Expand(cfg.Path),
		comma:  delimiter(cfg.Delimiter),
		header: cfg.Header == nil || *cfg.Header,
		log:    log,
	}
}

// Path returns the expanded output path.
func (f *File) Path() string { return f.path }

// Metrics reports rows written as inserted.
func (f *File) Metrics() merge.Metrics { return f.metrics }

// Load appends the rows of m to the file.
func (f *File) Load(ctx context.Context, m *batch.Manifest) (err error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("sink: create dir %s: %w", filepath.Dir(f.path), err)
	}
	_, statErr := os.Stat(f.path)
	created := errors.Is(statErr, fs.ErrNotExist)

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sink: open %s: %w", f.path, err)
	}
	defer func() {
		if cerr := fh.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("sink: close %s: %w", f.path, cerr)
		}
	}()

	w := csv.NewWriter(fh)
	w.Comma = f.comma
	wroteHeader := !created || !f.header
	err = each(ctx, m, func(b *batch.Batch) error {
		if !wroteHeader {
			if err := w.Write(b.Names()); err != nil {
				return err
			}
			wroteHeader = true
		}
		for _, row := range b.Rows {
			if err := w.Write(record(row)); err != nil {
				return err
			}
		}
		count(&f.metrics, b.Len())
		return nil
	})
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	if err != nil {
		return fmt.Errorf("sink: write %s: %w", f.path, err)
	}
	f.log.Info("sink: file written", "path", f.path, "rows", f.metrics.Inserted, "created", created)
	return nil
}
