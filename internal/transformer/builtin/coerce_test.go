package builtin

import (
	"reflect"
	"strconv"
	"testing"
	"time"

	"mergeflow/internal/batch"
)

func TestCoerce(t *testing.T) {
	b := batch.New("pcv", "date_from", "rm_code")
	b.Rows = [][]any{{"10", "13.08.2018", "3203"}}
	c := Coerce{Types: map[string]string{"pcv": "int", "rm_code": "int", "date_from": "date"}, Layout: "02.01.2006"}
	out := c.Apply(b)
	if _, ok := out.Rows[0][0].(int64); !ok {
		t.Fatalf("pcv not int64")
	}
	if _, ok := out.Rows[0][2].(int64); !ok {
		t.Fatalf("rm_code not int64")
	}
	if _, ok := out.Rows[0][1].(time.Time); !ok {
		t.Fatalf("date_from not time.Time")
	}
	if out.Columns[0].Type.Name != "BIGINT" || out.Columns[1].Type.Name != "DATE" {
		t.Fatalf("column types not updated: %+v", out.Columns)
	}
}

/*
TestCoerceApply_Basics verifies that Coerce.Apply converts string values
to int, bool, date (time.Time), or leaves string as-is when type "string"
is specified. Layout defaults to ISO dates.
*/
func TestCoerceApply_Basics(t *testing.T) {
	c := Coerce{Types: map[string]string{"i": "int", "b": "bool", "d": "date", "s": "string"}}
	b := batch.New("i", "b", "d", "s")
	b.Rows = [][]any{{"42", "true", "2025-11-09", "hello"}}
	r := c.Apply(b).Rows[0]

	if v, ok := r[0].(int64); !ok || v != 42 {
		t.Fatalf(`"i" got %#v (type %T); want int64(42)`, r[0], r[0])
	}
	if v, ok := r[1].(bool); !ok || !v {
		t.Fatalf(`"b" got %#v (type %T); want bool(true)`, r[1], r[1])
	}
	if v, ok := r[2].(time.Time); !ok || v.Format(DefaultDateLayout) != "2025-11-09" {
		t.Fatalf(`"d" got %#v (type %T); want time.Time(2025-11-09)`, r[2], r[2])
	}
	if v, ok := r[3].(string); !ok || v != "hello" {
		t.Fatalf(`"s" got %#v (type %T); want string("hello")`, r[3], r[3])
	}
	if got := b.Columns[3].Type.Name; got != "VARCHAR" {
		t.Fatalf(`"s" column type = %q; want VARCHAR`, got)
	}
}

/*
TestCoerceApply_InvalidsPreserve verifies that when parsing fails, the original
string value is left unchanged and the column keeps its previous type.
*/
func TestCoerceApply_InvalidsPreserve(t *testing.T) {
	c := Coerce{Types: map[string]string{"i": "int", "b": "bool", "d": "date"}}
	b := batch.New("i", "b", "d")
	b.Rows = [][]any{
		{"1", "false", "2025-11-09"},
		{"not-an-int", "nope", "11/09/2025"},
	}
	c.Apply(b)

	want := []any{"not-an-int", "nope", "11/09/2025"}
	if !reflect.DeepEqual(b.Rows[1], want) {
		t.Fatalf("invalid values should remain unchanged:\n got: %#v\nwant: %#v", b.Rows[1], want)
	}
	if b.Rows[0][0] != int64(1) {
		t.Fatalf("valid value not coerced: %#v", b.Rows[0][0])
	}
	for _, col := range b.Columns {
		if col.Type.Name != "" {
			t.Fatalf("column %s typed %s despite failures", col.Name, col.Type)
		}
	}
}

/*
TestCoerceApply_MissingNilNonString verifies that:
  - missing columns are ignored,
  - nil values are ignored,
  - non-string values are left untouched (no re-coercion).
*/
func TestCoerceApply_MissingNilNonString(t *testing.T) {
	tm := time.Date(2025, 11, 9, 0, 0, 0, 0, time.UTC)
	c := Coerce{Types: map[string]string{"a": "int", "b": "bool", "c": "date"}}
	b := batch.New("b", "c", "x")
	b.Rows = [][]any{{nil, tm, 123}}
	c.Apply(b)

	want := [][]any{{nil, tm, 123}}
	if !reflect.DeepEqual(b.Rows, want) {
		t.Fatalf("non-string/missing/nil should be unchanged:\n got: %#v\nwant: %#v", b.Rows, want)
	}
}

/*
TestCoerceApply_TypeNamesCaseInsensitive documents that type names are
matched without regard to case, while unknown names are ignored.
*/
func TestCoerceApply_TypeNamesCaseInsensitive(t *testing.T) {
	b := batch.New("i", "j")
	b.Rows = [][]any{{"5", "6"}}
	Coerce{Types: map[string]string{"i": "Int", "j": "integer"}}.Apply(b)
	if b.Rows[0][0] != int64(5) {
		t.Fatalf(`"Int" should coerce; got %#v`, b.Rows[0][0])
	}
	if b.Rows[0][1] != "6" {
		t.Fatalf(`unrecognized type should be ignored; got %#v`, b.Rows[0][1])
	}
}

/*
BenchmarkCoerce_AllPass_IntBoolDate measures throughput when all fields
successfully coerce (hot path).
*/
func BenchmarkCoerce_AllPass_IntBoolDate(b *testing.B) {
	c := Coerce{Types: map[string]string{"i": "int", "b": "bool", "d": "date"}}

	const N = 30000
	rows := make([][]any, N)
	for i := range rows {
		rows[i] = []any{strconv.Itoa(i), "true", "2025-11-09", "untouched"}
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		in := batch.New("i", "b", "d", "x")
		in.Rows = make([][]any, N)
		for r := range rows {
			in.Rows[r] = append([]any(nil), rows[r]...)
		}
		c.Apply(in)
	}
}
