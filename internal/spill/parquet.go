// Package spill persists batches as Parquet files so extraction can finish
// before loading starts without holding every chunk in memory.
//
// Files are named {pipeline}_slice_{index}[_{sub}].parquet. Physical column
// names are positional (c0..cN); the logical names and types travel in the
// file's key/value metadata, so arbitrary source column names round-trip.
package spill

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"mergeflow/internal/batch"
	"mergeflow/internal/ddl"
)

// Ext is the spill file extension.
const Ext = "parquet"

const (
	metaKey     = "mergeflow.columns"
	parallelism = 4
)

type physical int

const (
	pString physical = iota
	pInt64
	pDouble
	pBool
)

func (p physical) tag() string {
	switch p {
	case pInt64:
		return "type=INT64"
	case pDouble:
		return "type=DOUBLE"
	case pBool:
		return "type=BOOLEAN"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

func physicalOf(t ddl.ColumnType) physical {
	switch t.Name {
	case "SMALLINT", "INTEGER", "BIGINT":
		return pInt64
	case "REAL", "DOUBLE", "FLOAT":
		return pDouble
	case "BOOLEAN":
		return pBool
	default:
		return pString
	}
}

type columnMeta struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Size      int    `json:"size,omitempty"`
	Precision int    `json:"precision,omitempty"`
	Scale     int    `json:"scale,omitempty"`
}

func schemaJSON(cols []batch.Column) (string, error) {
	fields := make([]map[string]string, len(cols))
	for i, c := range cols {
		fields[i] = map[string]string{
			"Tag": fmt.Sprintf("name=c%d, %s, repetitiontype=OPTIONAL", i, physicalOf(c.Type).tag()),
		}
	}
	b, err := json.Marshal(map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})
	return string(b), err
}

// Write stores b at path, replacing any existing file.
func Write(path string, b *batch.Batch) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("spill: mkdir: %w", err)
	}
	schema, err := schemaJSON(b.Columns)
	if err != nil {
		return fmt.Errorf("spill: schema: %w", err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("spill: create %s: %w", path, err)
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("spill: close %s: %w", path, cerr)
		}
	}()

	pw, err := writer.NewJSONWriter(schema, fw, parallelism)
	if err != nil {
		return fmt.Errorf("spill: writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	phys := make([]physical, len(b.Columns))
	meta := make([]columnMeta, len(b.Columns))
	for i, c := range b.Columns {
		phys[i] = physicalOf(c.Type)
		meta[i] = columnMeta{Name: c.Name, Type: c.Type.Name, Size: c.Type.Size, Precision: c.Type.Precision, Scale: c.Type.Scale}
	}

	rec := make(map[string]any, len(b.Columns))
	for r, row := range b.Rows {
		for i, v := range row {
			cv, err := coerce(phys[i], v)
			if err != nil {
				_ = pw.WriteStop()
				return fmt.Errorf("spill: row %d column %s: %w", r, b.Columns[i].Name, err)
			}
			rec["c"+strconv.Itoa(i)] = cv
		}
		line, err := json.Marshal(rec)
		if err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("spill: row %d: %w", r, err)
		}
		if err := pw.Write(string(line)); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("spill: write row %d: %w", r, err)
		}
	}

	mj, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("spill: metadata: %w", err)
	}
	ms := string(mj)
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: metaKey, Value: &ms})
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("spill: finish %s: %w", path, err)
	}
	return nil
}

// Read loads a file written by Write.
func Read(path string) (*batch.Batch, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("spill: open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, parallelism)
	if err != nil {
		return nil, fmt.Errorf("spill: reader %s: %w", path, err)
	}
	defer pr.ReadStop()

	var meta []columnMeta
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv.Key == metaKey && kv.Value != nil {
			if err := json.Unmarshal([]byte(*kv.Value), &meta); err != nil {
				return nil, fmt.Errorf("spill: metadata %s: %w", path, err)
			}
		}
	}
	if meta == nil {
		return nil, fmt.Errorf("spill: %s: missing column metadata", path)
	}

	out := &batch.Batch{Columns: make([]batch.Column, len(meta))}
	for i, m := range meta {
		out.Columns[i] = batch.Column{Name: m.Name, Type: ddl.ColumnType{Name: m.Type, Size: m.Size, Precision: m.Precision, Scale: m.Scale}}
	}

	n := pr.GetNumRows()
	if n == 0 {
		return out, nil
	}
	out.Rows = make([][]any, n)
	for r := range out.Rows {
		out.Rows[r] = make([]any, len(meta))
	}
	for c := range meta {
		vals, _, _, err := pr.ReadColumnByIndex(int64(c), n)
		if err != nil {
			return nil, fmt.Errorf("spill: read column %d of %s: %w", c, path, err)
		}
		if int64(len(vals)) != n {
			return nil, fmt.Errorf("spill: column %d of %s has %d values, want %d", c, path, len(vals), n)
		}
		for r, v := range vals {
			out.Rows[r][c] = v
		}
	}
	return out, nil
}

// coerce converts v to the Go type matching the column's physical type.
func coerce(p physical, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch p {
	case pInt64:
		return toInt64(v)
	case pDouble:
		return toFloat64(v)
	case pBool:
		return toBool(v)
	default:
		return text(v), nil
	}
}

func toInt64(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("value %v is not integral", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string, []byte:
		s := strings.TrimSpace(text(x))
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not an integer", s)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot store %T as integer", v)
	}
}

func toFloat64(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string, []byte:
		s := strings.TrimSpace(text(x))
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a number", s)
		}
		return f, nil
	default:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return float64(n.(int64)), nil
	}
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string, []byte:
		s := strings.TrimSpace(text(x))
		if s == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a boolean", s)
		}
		return b, nil
	default:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return n.(int64) != 0, nil
	}
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
