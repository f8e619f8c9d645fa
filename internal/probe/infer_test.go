package probe

import (
	"encoding/json"
	"testing"
	"time"

	"mergeflow/internal/batch"
	"mergeflow/internal/ddl"
)

//
// ---- InferColumn ------------------------------------------------------------
//

func TestInferColumn(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		values []any
		kind   string
		typ    ddl.ColumnType
	}{
		{"all empty", []any{nil, "", "  "}, KindEmpty, ddl.ColumnType{Name: "VARCHAR", Size: 255}},
		{"integers", []any{"1", "-20", nil, "300"}, KindInteger, ddl.ColumnType{Name: "BIGINT"}},
		{"zero one stays integer", []any{"0", "1"}, KindInteger, ddl.ColumnType{Name: "BIGINT"}},
		{"booleans", []any{"true", "No", "Y"}, KindBoolean, ddl.ColumnType{Name: "BOOLEAN"}},
		{"typed booleans", []any{true, false}, KindBoolean, ddl.ColumnType{Name: "BOOLEAN"}},
		{"decimals", []any{"10.50", "3", "-0.125"}, KindDecimal, ddl.ColumnType{Name: "DECIMAL", Precision: 18, Scale: 3}},
		{"json numbers", []any{json.Number("1"), json.Number("2.5")}, KindDecimal, ddl.ColumnType{Name: "DECIMAL", Precision: 18, Scale: 1}},
		{"scientific is text", []any{"1e5"}, KindText, ddl.ColumnType{Name: "VARCHAR", Size: 255}},
		{"iso dates", []any{"2024-01-31", "2023-12-01"}, KindDate, ddl.ColumnType{Name: "DATE"}},
		{"timestamps", []any{"2024-01-31 10:00:00", "2024-02-01 00:00:01"}, KindTimestamp, ddl.ColumnType{Name: "TIMESTAMP"}},
		{"mixed is text", []any{"2024-01-31", "hello"}, KindText, ddl.ColumnType{Name: "VARCHAR", Size: 255}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := InferColumn(tc.values)
			if got.Kind != tc.kind || got.Type != tc.typ {
				t.Fatalf("InferColumn(%v) = %s %v; want %s %v", tc.values, got.Kind, got.Type, tc.kind, tc.typ)
			}
		})
	}
}

func TestInferColumnLongText(t *testing.T) {
	t.Parallel()

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := InferColumn([]any{string(long)})
	if got.Type.Name != "VARCHAR" || got.Type.Size != 511 {
		t.Fatalf("300-char text = %v; want VARCHAR(511)", got.Type)
	}

	huge := make([]byte, MaxVarcharSize+1)
	for i := range huge {
		huge[i] = 'y'
	}
	if got := InferColumn([]any{string(huge)}); got.Type.Name != "CLOB" {
		t.Fatalf("huge text = %v; want CLOB", got.Type)
	}
}

//
// ---- Infer / Convert --------------------------------------------------------
//

func TestInferConvertsValues(t *testing.T) {
	t.Parallel()

	b := batch.New("id", "active", "amount", "born", "note")
	_ = b.Append("1", "yes", "10.50", "2024-01-31", "a")
	_ = b.Append("2", "no", "", "", nil)

	cols := Infer(b)
	if len(cols) != 5 {
		t.Fatalf("len(cols)=%d; want 5", len(cols))
	}
	row := b.Rows[0]
	if row[0] != int64(1) || row[1] != true || row[2] != "10.50" {
		t.Fatalf("row 0 = %#v", row)
	}
	if want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC); row[3] != want {
		t.Fatalf("born = %#v; want %v", row[3], want)
	}
	if b.Rows[1][2] != nil || b.Rows[1][3] != nil {
		t.Fatalf("empty typed cells should become nil: %#v", b.Rows[1])
	}
	if b.Columns[0].Type.Name != "BIGINT" || b.Columns[3].Type.Name != "DATE" {
		t.Fatalf("column types = %v", b.Columns)
	}
}

func TestInferKeepsDeclaredTypes(t *testing.T) {
	t.Parallel()

	b := &batch.Batch{Columns: []batch.Column{{Name: "code", Type: ddl.ColumnType{Name: "VARCHAR", Size: 10}}}}
	_ = b.Append("007")
	Infer(b)
	if b.Rows[0][0] != "007" || b.Columns[0].Type.Size != 10 {
		t.Fatalf("declared column changed: %v %v", b.Columns[0], b.Rows[0])
	}
}

//
// ---- header normalization ---------------------------------------------------
//

func TestNormalizeFieldName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Datum první registrace": "datum_prvni_registrace",
		"  Order-ID ":            "order_id",
		"a.b/c":                  "a_b_c",
		"€€€":                    "col",
		"__x__":                  "x",
	}
	for in, want := range cases {
		if got := NormalizeFieldName(in); got != want {
			t.Errorf("NormalizeFieldName(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestNormalizeHeadersDeduplicates(t *testing.T) {
	t.Parallel()

	got := NormalizeHeaders([]string{"Name", "name", "NAME ", "Other"})
	want := []string{"name", "name_2", "name_3", "other"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NormalizeHeaders = %v; want %v", got, want)
		}
	}
}
