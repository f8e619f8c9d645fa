package builtin

import "mergeflow/internal/batch"

// Require removes any row missing a value for one of the specified fields.
type Require struct {
	Fields []string
}

// Apply filters b in place, keeping only rows that have every required
// field present and non-empty. A field absent from the batch drops every
// row.
func (r Require) Apply(b *batch.Batch) *batch.Batch {
	if len(r.Fields) == 0 {
		return b
	}
	idx := make([]int, len(r.Fields))
	for i, f := range r.Fields {
		idx[i] = b.Index(f)
		if idx[i] < 0 {
			b.Rows = b.Rows[:0]
			return b
		}
	}
	out := b.Rows[:0]
	for _, row := range b.Rows {
		ok := true
		for _, i := range idx {
			if v := row[i]; v == nil || v == "" {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	clear(b.Rows[len(out):])
	b.Rows = out
	return b
}
