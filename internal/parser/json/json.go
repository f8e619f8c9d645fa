// Package json reads JSON documents into batches: a root array of objects,
// an envelope object holding such an array, a single object, or a stream of
// newline-delimited objects. Column order follows first appearance of each
// key, and numbers are kept as json.Number so no precision is lost.
package json

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"mergeflow/internal/batch"
	"mergeflow/internal/probe"
)

// Options configures Read.
type Options struct {
	// RecordsPath is a dot-separated path from the root object to the array
	// of records, e.g. "data.items". When empty, the first array-of-objects
	// field of a root object is used, or the object itself.
	RecordsPath string
	// HeaderMap renames keys before normalization.
	HeaderMap        map[string]string
	NormalizeHeaders bool
	// Flatten expands nested objects into parent_child columns. Without it
	// nested values are kept as JSON text.
	Flatten bool
}

// Record is one decoded object with its keys in document order.
type Record struct {
	Keys   []string
	Values map[string]any
}

// Decode reads every record from r.
func Decode(r io.Reader, opt Options) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var out []Record
	first := true
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("json: decode: %w", err)
		}
		items, err := records(raw, opt.RecordsPath, first)
		if err != nil {
			return nil, err
		}
		first = false
		for _, it := range items {
			rec, err := decodeObject(it)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
}

// Read decodes r and calls fn with batches of at most pageSize rows (one
// batch when pageSize <= 0). fn is called at least once.
func Read(ctx context.Context, r io.Reader, opt Options, pageSize int, fn func(*batch.Batch) error) error {
	recs, err := Decode(r, opt)
	if err != nil {
		return err
	}
	b := ToBatch(recs, opt)
	if b.Len() == 0 {
		return fn(b)
	}
	for _, page := range b.Split(pageSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// ToBatch lays records out as rows. Missing keys become nil.
func ToBatch(recs []Record, opt Options) *batch.Batch {
	var order []string
	index := map[string]int{}
	flat := make([]map[string]any, len(recs))
	for i, rec := range recs {
		m := make(map[string]any, len(rec.Keys))
		for _, k := range rec.Keys {
			name := k
			if mapped, ok := opt.HeaderMap[k]; ok && mapped != "" {
				name = mapped
			}
			addValue(m, &order, index, name, rec.Values[k], opt.Flatten)
		}
		flat[i] = m
	}

	names := order
	if opt.NormalizeHeaders {
		names = probe.NormalizeHeaders(order)
	}
	b := batch.New(names...)
	for _, m := range flat {
		row := make([]any, len(order))
		for j, k := range order {
			row[j] = m[k]
		}
		b.Rows = append(b.Rows, row)
	}
	return b
}

func addValue(m map[string]any, order *[]string, index map[string]int, key string, v any, flatten bool) {
	if obj, ok := v.(orderedObject); ok {
		if flatten {
			for _, k := range obj.Keys {
				addValue(m, order, index, key+"_"+k, obj.Values[k], true)
			}
			return
		}
		v = obj.text()
	}
	if arr, ok := v.([]any); ok {
		b, _ := json.Marshal(plain(arr))
		v = string(b)
	}
	if _, seen := index[key]; !seen {
		index[key] = len(*order)
		*order = append(*order, key)
	}
	m[key] = v
}

// records selects the record objects inside one top-level value.
func records(raw json.RawMessage, path string, first bool) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if path != "" && first {
		var root map[string]json.RawMessage
		if err := json.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("json: records_path %q needs an object root: %w", path, err)
		}
		cur := raw
		for _, seg := range strings.Split(path, ".") {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(cur, &obj); err != nil {
				return nil, fmt.Errorf("json: records_path %q: %q is not an object", path, seg)
			}
			next, ok := obj[seg]
			if !ok {
				return nil, fmt.Errorf("json: records_path %q: key %q not found", path, seg)
			}
			cur = next
		}
		return objectArray(cur, path)
	}
	switch raw[0] {
	case '[':
		return objectArray(raw, "root")
	case '{':
		if first {
			if arr := envelope(raw); arr != nil {
				return arr, nil
			}
		}
		return []json.RawMessage{raw}, nil
	default:
		return nil, fmt.Errorf("json: unsupported top-level value %.20s", raw)
	}
}

func objectArray(raw json.RawMessage, where string) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("json: %s is not an array: %w", where, err)
	}
	out := arr[:0]
	for i, el := range arr {
		el = bytes.TrimSpace(el)
		if bytes.Equal(el, []byte("null")) {
			continue
		}
		if len(el) == 0 || el[0] != '{' {
			return nil, fmt.Errorf("json: element %d of %s is not an object", i, where)
		}
		out = append(out, el)
	}
	return out, nil
}

// envelope returns the first field of a root object, in document order,
// whose value is a non-empty array of objects.
func envelope(raw json.RawMessage) []json.RawMessage {
	obj, err := decodeRawObject(raw)
	if err != nil {
		return nil
	}
	for _, k := range obj.Keys {
		v := bytes.TrimSpace(obj.Values[k])
		if len(v) == 0 || v[0] != '[' {
			continue
		}
		if arr, err := objectArray(v, k); err == nil && len(arr) > 0 {
			return arr
		}
	}
	return nil
}
