// Package sink writes extracted rows to files instead of a database: the
// FILE target appends CSV, the REPORT target renders a CSV or XLSX report
// and may upload it to object storage.
package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mergeflow/internal/batch"
	"mergeflow/internal/fingerprint"
	"mergeflow/internal/merge"
	"mergeflow/internal/spill"
)

// Names are the values a file name template may reference.
type Names struct {
	RunID string
	Start time.Time
}

// Expand replaces {PID} with the run id and {YYYYMMDD} with the run date.
func (n Names) Expand(name string) string {
	return strings.NewReplacer(
		"{PID}", n.RunID,
		"{YYYYMMDD}", n.Start.Format("20060102"),
	).Replace(name)
}

// each calls fn for every entry of m in slice order, reading spill files
// back one at a time.
func each(ctx context.Context, m *batch.Manifest, fn func(*batch.Batch) error) error {
	m.Normalize()
	for _, e := range m.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := e.Batch
		if e.Spilled() {
			var err error
			if b, err = spill.Read(e.Path); err != nil {
				return fmt.Errorf("sink: %w", err)
			}
		}
		if b.Len() == 0 {
			continue
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// record renders a row as CSV fields.
func record(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fingerprint.Text(v)
	}
	return out
}

func count(m *merge.Metrics, n int) {
	m.Total += int64(n)
	m.Processed += int64(n)
	m.Inserted += int64(n)
}

func delimiter(s string) rune {
	if s == "" {
		return ','
	}
	return []rune(s)[0]
}
