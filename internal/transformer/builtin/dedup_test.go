package builtin

import (
	"reflect"
	"testing"

	"mergeflow/internal/batch"
)

func mk(rows ...[]any) *batch.Batch {
	b := batch.New("pcv", "date_from", "reason", "rm_code")
	b.Rows = rows
	return b
}

func TestDeDupKeepFirst(t *testing.T) {
	in := mk(
		[]any{int64(1), "2020-01-01", "A", nil},
		[]any{int64(1), "2020-01-01", "B", nil},
		[]any{int64(2), "2020-01-01", "C", nil},
	)
	d := DeDup{Keys: []string{"pcv", "date_from"}, Policy: "keep-first"}
	got := d.Apply(in).Rows
	want := [][]any{
		{int64(1), "2020-01-01", "A", nil},
		{int64(2), "2020-01-01", "C", nil},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("keep-first: got %#v want %#v", got, want)
	}
}

func TestDeDupKeepLast(t *testing.T) {
	in := mk(
		[]any{int64(1), "2020-01-01", "A", nil},
		[]any{int64(2), "2020-01-01", "C", nil},
		[]any{int64(1), "2020-01-01", "B", nil},
	)
	d := DeDup{Keys: []string{"pcv", "date_from"}}
	got := d.Apply(in).Rows
	want := [][]any{
		{int64(2), "2020-01-01", "C", nil},
		{int64(1), "2020-01-01", "B", nil},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("keep-last: got %#v want %#v", got, want)
	}
}

func TestDeDupMostComplete(t *testing.T) {
	in := mk(
		[]any{int64(1), "2020-01-01", "", nil},
		[]any{int64(1), "2020-01-01", "B", int64(1)},
		[]any{int64(1), "2020-01-01", "", int64(7)},
		[]any{int64(2), "2020-01-01", "C", nil},
	)
	d := DeDup{Keys: []string{"pcv", "date_from"}, Policy: "most-complete"}
	got := d.Apply(in).Rows
	want := [][]any{
		{int64(1), "2020-01-01", "B", int64(1)},
		{int64(2), "2020-01-01", "C", nil},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("most-complete: got %#v want %#v", got, want)
	}
}

/*
TestDeDupPreferFields verifies that PreferFields breaks an otherwise equal
completeness score in favour of the row carrying the preferred value.
*/
func TestDeDupPreferFields(t *testing.T) {
	in := mk(
		[]any{int64(1), "2020-01-01", nil, int64(5)},
		[]any{int64(1), "2020-01-01", "R", nil},
	)
	d := DeDup{Keys: []string{"pcv"}, Policy: "most-complete", PreferFields: []string{"rm_code"}}
	got := d.Apply(in).Rows
	want := [][]any{{int64(1), "2020-01-01", nil, int64(5)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("prefer: got %#v want %#v", got, want)
	}
}

func TestDeDupNilKeysCollapse(t *testing.T) {
	in := mk(
		[]any{nil, "2020-01-01", "A", nil},
		[]any{nil, "2020-01-01", "B", nil},
	)
	got := DeDup{Keys: []string{"pcv"}, Policy: KeepFirst}.Apply(in).Rows
	if len(got) != 1 || got[0][2] != "A" {
		t.Fatalf("nil keys: got %#v", got)
	}
}

func TestDeDupUnknownKeyIsNoop(t *testing.T) {
	in := mk(
		[]any{int64(1), "x", "A", nil},
		[]any{int64(1), "x", "A", nil},
	)
	got := DeDup{Keys: []string{"missing"}}.Apply(in)
	if got.Len() != 2 {
		t.Fatalf("unknown key: got %d rows, want 2", got.Len())
	}
}
