// Package fingerprint stamps batches with the two control columns used for
// change detection and lineage: a row digest and the extraction timestamp.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"mergeflow/internal/batch"
	"mergeflow/internal/ddl"
)

// Default control column names.
const (
	DefaultFingerprintColumn = "data_fingerprint"
	DefaultTimestampColumn   = "extract_timestamp"
)

// TimestampLayout formats extract_timestamp as YYYYMMDDhhmmss.
const TimestampLayout = "20060102150405"

// Types of the control columns when a table is auto-created.
var (
	FingerprintType = ddl.ColumnType{Name: "VARCHAR", Size: 32}
	TimestampType   = ddl.ColumnType{Name: "BIGINT"}
)

// Labels names the two control columns in the target.
type Labels struct {
	Fingerprint string
	Timestamp   string
}

// DefaultLabels returns the built-in control column names.
func DefaultLabels() Labels {
	return Labels{Fingerprint: DefaultFingerprintColumn, Timestamp: DefaultTimestampColumn}
}

// WithDefaults fills empty labels.
func (l Labels) WithDefaults() Labels {
	if l.Fingerprint == "" {
		l.Fingerprint = DefaultFingerprintColumn
	}
	if l.Timestamp == "" {
		l.Timestamp = DefaultTimestampColumn
	}
	return l
}

// Columns returns the control columns as table columns.
func (l Labels) Columns() []ddl.ColumnDef {
	l = l.WithDefaults()
	return []ddl.ColumnDef{
		{Name: l.Fingerprint, Type: FingerprintType, Nullable: true},
		{Name: l.Timestamp, Type: TimestampType, Nullable: true},
	}
}

// Fingerprinter computes row digests and stamps batches.
type Fingerprinter struct {
	labels Labels
	ignore map[string]struct{}
	now    func() time.Time
}

// New returns a Fingerprinter that skips the ignored columns (matched
// case-insensitively) as well as its own control columns. now may be nil.
func New(labels Labels, ignore []string, now func() time.Time) *Fingerprinter {
	labels = labels.WithDefaults()
	if now == nil {
		now = time.Now
	}
	ig := make(map[string]struct{}, len(ignore)+2)
	for _, c := range ignore {
		ig[strings.ToLower(c)] = struct{}{}
	}
	ig[strings.ToLower(labels.Fingerprint)] = struct{}{}
	ig[strings.ToLower(labels.Timestamp)] = struct{}{}
	return &Fingerprinter{labels: labels, ignore: ig, now: now}
}

// Labels returns the control column names in use.
func (f *Fingerprinter) Labels() Labels { return f.labels }

// Fingerprint returns the md5 digest, as 32 lowercase hex characters, of the
// concatenated textual values of every non-ignored column in column order.
func (f *Fingerprinter) Fingerprint(cols []batch.Column, row []any) string {
	h := md5.New()
	for i, c := range cols {
		if _, skip := f.ignore[strings.ToLower(c.Name)]; skip {
			continue
		}
		if i < len(row) {
			h.Write([]byte(Text(row[i])))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Stamp adds (or overwrites) the control columns on every row of b. The
// timestamp is sampled once, so all rows of one batch share it.
func (f *Fingerprinter) Stamp(b *batch.Batch) *batch.Batch {
	if b == nil {
		return nil
	}
	ts := f.now().Format(TimestampLayout)
	cols := append([]batch.Column(nil), b.Columns...)
	b.SetColumn(f.labels.Fingerprint, FingerprintType, func(row []any) any {
		return f.Fingerprint(cols, row)
	})
	b.SetColumn(f.labels.Timestamp, TimestampType, func([]any) any { return ts })
	return b
}

// Text is the textual form used for hashing: nil is empty, strings and bytes
// are taken verbatim, times use RFC 3339 with nanoseconds.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
