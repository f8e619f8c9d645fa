package builtin

import (
	"reflect"
	"testing"

	"mergeflow/internal/batch"
)

/*
TestNormalizeApply_TableDriven verifies the core normalization semantics of
Normalize.Apply:

  - Replaces U+00A0 NO-BREAK SPACE (NBSP) with ASCII space.
  - Trims leading/trailing ASCII whitespace (space, tab, LF, CR) when present.
  - Leaves non-string values unchanged.
  - Applies changes in place (row slices are mutated, not replaced).
*/
func TestNormalizeApply_TableDriven(t *testing.T) {
	tests := []struct {
		name string
		in   []any
		want []any
	}{
		{name: "no_strings_no_change", in: []any{1, true, nil}, want: []any{1, true, nil}},
		{name: "simple_trim_spaces", in: []any{" foo ", "\tbar\n"}, want: []any{"foo", "bar"}},
		{name: "nbsp_replaced_and_trimmed", in: []any{" " + nbsp + "foo" + nbsp + " "}, want: []any{"foo"}},
		{name: "nbsp_internal_only_not_trimmed", in: []any{"foo" + nbsp + "bar"}, want: []any{"foo bar"}},
		{
			name: "mixed_types_partial_changes",
			in:   []any{" foo ", "bar" + nbsp, 42, nil, "baz", "\nqux\r", nbsp + " y  "},
			want: []any{"foo", "bar", 42, nil, "baz", "qux", "y"},
		},
		{name: "empty_kept_as_string", in: []any{"  "}, want: []any{""}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &batch.Batch{Columns: make([]batch.Column, len(tc.in)), Rows: [][]any{tc.in}}
			row := b.Rows[0]

			out := Normalize{}.Apply(b)

			if !reflect.DeepEqual(out.Rows[0], tc.want) {
				t.Fatalf("Normalize.Apply() mismatch:\n got: %#v\nwant: %#v", out.Rows[0], tc.want)
			}
			if len(row) > 0 && &out.Rows[0][0] != &row[0] {
				t.Fatalf("Normalize.Apply did not operate on the original row")
			}
		})
	}
}

func TestNormalizeEmptyAsNull(t *testing.T) {
	b := batch.New("a", "b")
	b.Rows = [][]any{{" ", nbsp}}
	Normalize{EmptyAsNull: true}.Apply(b)
	if b.Rows[0][0] != nil || b.Rows[0][1] != nil {
		t.Fatalf("blank values should become nil: %#v", b.Rows[0])
	}
}

/*
TestHasEdgeSpace verifies that HasEdgeSpace detects leading/trailing ASCII
whitespace and ignores interior-only whitespace.
*/
func TestHasEdgeSpace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "empty", in: "", want: false},
		{name: "no_spaces", in: "foo", want: false},
		{name: "leading_space", in: " foo", want: true},
		{name: "trailing_space", in: "foo ", want: true},
		{name: "internal_space_only", in: "f oo", want: false},
		{name: "leading_tab", in: "\tfoo", want: true},
		{name: "trailing_newline", in: "foo\n", want: true},
		{name: "leading_carriage_return", in: "\rfoo", want: true},
		{name: "internal_tab_only", in: "f\too", want: false},
		{name: "single_space", in: " ", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HasEdgeSpace(tt.in); got != tt.want {
				t.Fatalf("HasEdgeSpace(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

/*
TestRequireApply_Table covers core filtering semantics:

  - A row is kept only if all required fields are non-nil and, when the
    value is a string, non-empty.
  - Non-string values (e.g., 0, false) are considered present.
  - The output preserves the relative order of surviving rows.
  - A required field the batch does not have drops every row.
*/
func TestRequireApply_Table(t *testing.T) {
	rows := [][]any{
		{"x", nil},
		{"x", "y"},
		{"x", ""},
		{nil, "y"},
		{"x", 0},
		{"x", false},
	}
	tests := []struct {
		name    string
		fields  []string
		wantIdx []int
	}{
		{name: "single_required", fields: []string{"a"}, wantIdx: []int{0, 1, 2, 4, 5}},
		{name: "multi_required", fields: []string{"a", "b"}, wantIdx: []int{1, 4, 5}},
		{name: "no_required_fields_keep_all", fields: nil, wantIdx: []int{0, 1, 2, 3, 4, 5}},
		{name: "unknown_field_drops_all", fields: []string{"c"}, wantIdx: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := batch.New("a", "b")
			b.Rows = append([][]any(nil), rows...)

			out := Require{Fields: tc.fields}.Apply(b)

			var want [][]any
			for _, i := range tc.wantIdx {
				want = append(want, rows[i])
			}
			if len(out.Rows) != len(want) {
				t.Fatalf("kept %d rows, want %d", len(out.Rows), len(want))
			}
			for i := range want {
				if !reflect.DeepEqual(out.Rows[i], want[i]) {
					t.Fatalf("row %d: got %#v want %#v", i, out.Rows[i], want[i])
				}
			}
		})
	}
}
