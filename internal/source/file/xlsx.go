package file

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/probe"
)

// readXLSX streams one worksheet (file.sheet, or the first one) as pages of
// text cells. Empty cells become nil and short rows are padded.
func readXLSX(ctx context.Context, r io.Reader, f config.FileSource, pageSize int, fn func(*batch.Batch) error) error {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("xlsx: open: %w", err)
	}
	defer wb.Close()

	sheet := f.Sheet
	if sheet == "" {
		list := wb.GetSheetList()
		if len(list) == 0 {
			return fn(batch.New())
		}
		sheet = list[0]
	}
	rows, err := wb.Rows(sheet)
	if err != nil {
		return fmt.Errorf("xlsx: sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var cols []batch.Column
	page := &batch.Batch{}
	emitted := false
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("xlsx: read row: %w", err)
		}
		if cols == nil {
			cols = xlsxColumns(cells, f)
			page.Columns = cols
			if f.Header() {
				continue
			}
		}
		if blank(cells) {
			continue
		}
		row := make([]any, len(cols))
		for i := 0; i < len(cols) && i < len(cells); i++ {
			v := cells[i]
			if f.TrimSpace {
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
	if err := rows.Error(); err != nil {
		return fmt.Errorf("xlsx: rows: %w", err)
	}
	if len(page.Rows) > 0 || !emitted {
		return fn(page)
	}
	return nil
}

// xlsxColumns names the columns from the header row, or positionally.
func xlsxColumns(first []string, f config.FileSource) []batch.Column {
	names := make([]string, len(first))
	for i, h := range first {
		h = strings.TrimSpace(h)
		if m, ok := f.HeaderMap[h]; ok {
			h = m
		}
		if !f.Header() || h == "" {
			h = fmt.Sprintf("col_%d", i)
		}
		names[i] = h
	}
	if f.Header() && f.NormalizeHeaders {
		names = probe.NormalizeHeaders(names)
	}
	cols := make([]batch.Column, len(names))
	for i, n := range names {
		cols[i] = batch.Column{Name: n}
	}
	return cols
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
