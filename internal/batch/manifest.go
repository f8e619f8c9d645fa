package batch

import (
	"cmp"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
)

// SliceID identifies a batch within one extraction. Index counts direct pages
// or iterations from 1; Sub counts pages within an iteration from 1 and is 0
// when unused. The zero SliceID denotes an unchunked ("FULL") extraction.
type SliceID struct {
	Index int
	Sub   int
}

// Full is the identifier of an unchunked extraction.
var Full = SliceID{}

func (id SliceID) String() string {
	switch {
	case id == Full:
		return "FULL"
	case id.Sub > 0:
		return fmt.Sprintf("%05d_%05d", id.Index, id.Sub)
	default:
		return fmt.Sprintf("%05d", id.Index)
	}
}

// Compare orders FULL first, then by Index, then by Sub.
func (id SliceID) Compare(o SliceID) int {
	return cmp.Or(cmp.Compare(id.Index, o.Index), cmp.Compare(id.Sub, o.Sub))
}

// FileName returns "{pipeline}_slice_{id}.{ext}".
func (id SliceID) FileName(pipeline, ext string) string {
	return fmt.Sprintf("%s_slice_%s.%s", pipeline, id, ext)
}

var sliceNameRE = regexp.MustCompile(`^(.+)_slice_(?:(FULL)|(\d{5})(?:_(\d{5}))?)\.([A-Za-z0-9]+)$`)

// ParseFileName is the inverse of FileName.
func ParseFileName(name string) (pipeline string, id SliceID, ok bool) {
	m := sliceNameRE.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", SliceID{}, false
	}
	if m[2] == "" {
		id.Index, _ = strconv.Atoi(m[3])
		if m[4] != "" {
			id.Sub, _ = strconv.Atoi(m[4])
		}
	}
	return m[1], id, true
}

// Entry is one manifest element: either a resident batch or a spill file.
type Entry struct {
	ID    SliceID
	Batch *Batch
	Path  string
	Rows  int
}

// Spilled reports whether the entry refers to a file rather than memory.
func (e Entry) Spilled() bool { return e.Path != "" }

func (e Entry) key() string {
	if e.Spilled() {
		return "file:" + filepath.Clean(e.Path)
	}
	return "mem:" + e.ID.String()
}

// Manifest is the ordered list of batches produced by an extraction. It is
// always a sequence, possibly empty.
type Manifest struct {
	entries []Entry
}

// AddBatch appends a resident batch.
func (m *Manifest) AddBatch(id SliceID, b *Batch) {
	m.entries = append(m.entries, Entry{ID: id, Batch: b, Rows: b.Len()})
}

// AddFile appends a spill file holding rows rows.
func (m *Manifest) AddFile(id SliceID, path string, rows int) {
	m.entries = append(m.entries, Entry{ID: id, Path: path, Rows: rows})
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in their current order.
func (m *Manifest) Entries() []Entry {
	if m == nil {
		return nil
	}
	return m.entries
}

// Rows returns the total row count across entries.
func (m *Manifest) Rows() int {
	n := 0
	for _, e := range m.Entries() {
		n += e.Rows
	}
	return n
}

// Paths returns the spill file paths in manifest order.
func (m *Manifest) Paths() []string {
	var out []string
	for _, e := range m.Entries() {
		if e.Spilled() {
			out = append(out, e.Path)
		}
	}
	return out
}

// Normalize drops duplicate entries (same spill path, or same slice id for
// resident batches; the first occurrence wins) and sorts the remainder so the
// load order is reproducible regardless of extraction order. Spill files sort
// by base name, which is numeric order thanks to zero padding.
func (m *Manifest) Normalize() {
	seen := make(map[string]struct{}, len(m.entries))
	out := m.entries[:0]
	for _, e := range m.entries {
		k := e.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if a.Spilled() && b.Spilled() {
			return cmp.Compare(filepath.Base(a.Path), filepath.Base(b.Path))
		}
		return a.ID.Compare(b.ID)
	})
	m.entries = out
}

// Clear releases resident batches and empties the manifest.
func (m *Manifest) Clear() {
	clear(m.entries)
	m.entries = nil
}
