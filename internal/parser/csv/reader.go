// Package csv reads delimited text into batches. It handles legacy
// encodings, a UTF-8 BOM, header normalization and optional byte-level
// scrubbing of known malformed sequences, without buffering the whole input.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"mergeflow/internal/batch"
	"mergeflow/internal/probe"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Options configures Read. The zero value reads comma-separated UTF-8 with
// no header.
type Options struct {
	Comma      rune
	HasHeader  bool
	TrimSpace  bool
	LazyQuotes bool
	// Encoding is an IANA or WHATWG name such as "latin1" or "windows-1250".
	Encoding string
	// NormalizeHeaders turns header text into SQL identifiers.
	NormalizeHeaders bool
	// HeaderMap renames source headers (after BOM stripping, before
	// normalization).
	HeaderMap map[string]string
	// Columns names the columns of headerless input; col_N is used when
	// shorter than a record.
	Columns []string
	Scrub   []Replacement
	// OnBadRow receives rows that fail to parse or have the wrong width.
	// When nil, the first bad row aborts the read.
	OnBadRow func(line int, err error)
}

// LookupEncoding resolves an encoding name. Empty and UTF-8 names return
// nil, meaning no decoding.
func LookupEncoding(name string) (encoding.Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "utf8", "utf-8":
		return nil, nil
	case "utf-8-sig", "utf8-bom":
		return unicode.UTF8BOM, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "cp1250":
		return charmap.Windows1250, nil
	case "cp1252":
		return charmap.Windows1252, nil
	}
	enc, err := htmlindex.Get(n)
	if err != nil {
		return nil, fmt.Errorf("csv: unknown encoding %q", name)
	}
	return enc, nil
}

// Read parses r and calls fn with consecutive batches of at most pageSize
// rows (one batch when pageSize <= 0). fn is called at least once, so an
// input with only a header still reports its columns. Empty cells become nil.
func Read(ctx context.Context, r io.Reader, opt Options, pageSize int, fn func(*batch.Batch) error) error {
	enc, err := LookupEncoding(opt.Encoding)
	if err != nil {
		return err
	}
	if enc != nil {
		r = enc.NewDecoder().Reader(r)
	}
	r = scrub(r, opt.Scrub)

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	line := 0
	var names []string
	if opt.HasHeader {
		line++
		hdr, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return fn(batch.New())
		}
		if err != nil {
			return fmt.Errorf("csv: read header: %w", err)
		}
		names = headerNames(hdr, opt)
	}

	var cols []batch.Column
	page := &batch.Batch{}
	emitted := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			if err := badRow(opt, line, err); err != nil {
				return err
			}
			continue
		}
		if cols == nil {
			if names == nil {
				names = positionalNames(opt.Columns, len(rec))
			}
			cols = batchColumns(names)
			page.Columns = cols
		}
		if len(rec) != len(cols) {
			if err := badRow(opt, line, fmt.Errorf("expected %d fields, got %d", len(cols), len(rec))); err != nil {
				return err
			}
			continue
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[i] = v
			}
		}
		page.Rows = append(page.Rows, row)
		if pageSize > 0 && len(page.Rows) >= pageSize {
			if err := fn(page); err != nil {
				return err
			}
			emitted = true
			page = &batch.Batch{Columns: cols}
		}
	}
	if cols == nil {
		page.Columns = batchColumns(names)
	}
	if len(page.Rows) > 0 || !emitted {
		return fn(page)
	}
	return nil
}

func badRow(opt Options, line int, err error) error {
	if opt.OnBadRow == nil {
		return fmt.Errorf("csv: line %d: %w", line, err)
	}
	opt.OnBadRow(line, err)
	return nil
}

// headerNames strips the BOM, applies HeaderMap and, when enabled,
// normalizes the result into identifiers.
func headerNames(h []string, opt Options) []string {
	res := make([]string, len(h))
	for i, col := range h {
		c := strings.TrimSpace(col)
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		if m, ok := opt.HeaderMap[c]; ok {
			c = m
		}
		res[i] = c
	}
	if opt.NormalizeHeaders {
		return probe.NormalizeHeaders(res)
	}
	for i, c := range res {
		if c == "" {
			res[i] = fmt.Sprintf("col_%d", i)
		}
	}
	return res
}

func positionalNames(configured []string, n int) []string {
	out := make([]string, n)
	for i := range out {
		if i < len(configured) && configured[i] != "" {
			out[i] = configured[i]
		} else {
			out[i] = fmt.Sprintf("col_%d", i)
		}
	}
	return out
}

func batchColumns(names []string) []batch.Column {
	cols := make([]batch.Column, len(names))
	for i, n := range names {
		cols[i] = batch.Column{Name: n}
	}
	return cols
}
