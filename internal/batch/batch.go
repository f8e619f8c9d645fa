// Package batch holds the in-flight tabular unit (Batch) and the ordered list
// of batches produced by an extraction (Manifest).
//
// A Batch is owned by exactly one stage at a time: the chunk source creates
// it, the fingerprinter stamps it, the merge engine consumes it. Stages hand
// it on rather than sharing it.
package batch

import (
	"fmt"
	"strings"

	"mergeflow/internal/ddl"
)

// Column is a named, typed batch column. Type may be zero when the source
// does not report types (e.g. a CSV read before inference).
type Column struct {
	Name string
	Type ddl.ColumnType
}

// Batch is an ordered, named-column buffer of rows. Every row has exactly
// len(Columns) values.
type Batch struct {
	Columns []Column
	Rows    [][]any
}

// New returns an empty batch with the given column names.
func New(names ...string) *Batch {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n}
	}
	return &Batch{Columns: cols}
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Names returns the ordered column names.
func (b *Batch) Names() []string {
	out := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column (case-insensitive), or -1.
func (b *Batch) Index(name string) int {
	for i, c := range b.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Append adds a row after checking its width.
func (b *Batch) Append(row ...any) error {
	if len(row) != len(b.Columns) {
		return fmt.Errorf("batch: row width %d != columns %d", len(row), len(b.Columns))
	}
	b.Rows = append(b.Rows, row)
	return nil
}

// SetColumn sets the named column to v on every row, appending the column
// when it is missing.
func (b *Batch) SetColumn(name string, typ ddl.ColumnType, value func(row []any) any) {
	idx := b.Index(name)
	if idx < 0 {
		b.Columns = append(b.Columns, Column{Name: name, Type: typ})
		idx = len(b.Columns) - 1
		for i := range b.Rows {
			b.Rows[i] = append(b.Rows[i], nil)
		}
	}
	for i, r := range b.Rows {
		b.Rows[i][idx] = value(r)
	}
}

// Split cuts b into consecutive batches of at most size rows. size <= 0
// returns b unchanged. The returned batches share column metadata and row
// slices with b.
func (b *Batch) Split(size int) []*Batch {
	if size <= 0 || len(b.Rows) <= size {
		return []*Batch{b}
	}
	out := make([]*Batch, 0, (len(b.Rows)+size-1)/size)
	for start := 0; start < len(b.Rows); start += size {
		end := min(start+size, len(b.Rows))
		out = append(out, &Batch{Columns: b.Columns, Rows: b.Rows[start:end]})
	}
	return out
}

// Project returns a copy of b restricted to the named columns, in the given
// order. Unknown names are an error.
func (b *Batch) Project(names []string) (*Batch, error) {
	idx := make([]int, len(names))
	cols := make([]Column, len(names))
	for i, n := range names {
		j := b.Index(n)
		if j < 0 {
			return nil, fmt.Errorf("batch: unknown column %q", n)
		}
		idx[i] = j
		cols[i] = b.Columns[j]
	}
	out := &Batch{Columns: cols, Rows: make([][]any, len(b.Rows))}
	for r, row := range b.Rows {
		nr := make([]any, len(idx))
		for i, j := range idx {
			nr[i] = row[j]
		}
		out.Rows[r] = nr
	}
	return out, nil
}

// Schema returns the batch columns as a table definition named name.
func (b *Batch) Schema(schema, name string) ddl.TableDef {
	def := ddl.TableDef{Schema: schema, Name: name}
	for _, c := range b.Columns {
		def.Columns = append(def.Columns, ddl.ColumnDef{Name: c.Name, Type: c.Type, Nullable: true})
	}
	return def
}
