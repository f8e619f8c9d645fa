package ddl

import (
	"strconv"
	"strings"
	"testing"
)

func dq(s string) string { return `"` + s + `"` }

// TestBuildCreateTableSQL verifies that BuildCreateTableSQL generates the
// expected CREATE TABLE statements and surfaces appropriate errors for invalid
// inputs.
func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		def         TableDef
		quote       Quoter
		wantSQL     string
		wantErr     bool
		errContains string
	}{
		{
			name:        "empty name returns error",
			def:         TableDef{Columns: []ColumnDef{{Name: "id", SQLType: "INT"}}},
			wantErr:     true,
			errContains: "table name must not be empty",
		},
		{
			name:        "no columns returns error",
			def:         TableDef{Schema: "public", Name: "t"},
			wantErr:     true,
			errContains: "at least one column is required",
		},
		{
			name:        "column with empty name returns error",
			def:         TableDef{Name: "t", Columns: []ColumnDef{{Name: "", SQLType: "INT"}}},
			wantErr:     true,
			errContains: "column with empty name",
		},
		{
			name:        "column with empty type returns error",
			def:         TableDef{Name: "t", Columns: []ColumnDef{{Name: "id"}}},
			wantErr:     true,
			errContains: "missing SQLType",
		},
		{
			name:    "single nullable column unquoted",
			def:     TableDef{Name: "t", Columns: []ColumnDef{{Name: "id", SQLType: "INT", Nullable: true}}},
			wantSQL: "CREATE TABLE t (\n  id INT\n)",
		},
		{
			name: "default expression",
			def: TableDef{Name: "t", Columns: []ColumnDef{
				{Name: "created_at", SQLType: "TIMESTAMP", Default: " CURRENT_TIMESTAMP "},
			}},
			wantSQL: "CREATE TABLE t (\n  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP\n)",
		},
		{
			name: "composite primary key quoted and forced not null",
			def: TableDef{Schema: "ods", Name: "orders", Columns: []ColumnDef{
				{Name: "id", SQLType: "INTEGER", Nullable: true, PrimaryKey: true},
				{Name: "tenant", SQLType: "INTEGER", PrimaryKey: true},
				{Name: "amount", SQLType: "NUMERIC(12,2)", Nullable: true},
			}},
			quote:   dq,
			wantSQL: "CREATE TABLE \"ods\".\"orders\" (\n  \"id\" INTEGER NOT NULL,\n  \"tenant\" INTEGER NOT NULL,\n  \"amount\" NUMERIC(12,2),\n  PRIMARY KEY (\"id\", \"tenant\")\n)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotSQL, err := BuildCreateTableSQL(tt.def, tt.quote)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("BuildCreateTableSQL() error = nil, want non-nil")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("BuildCreateTableSQL() error = %q, want substring %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildCreateTableSQL() unexpected error = %v", err)
			}
			if gotSQL != tt.wantSQL {
				t.Fatalf("BuildCreateTableSQL() =\n%s\nwant:\n%s", gotSQL, tt.wantSQL)
			}
		})
	}
}

func TestWithoutConstraints(t *testing.T) {
	t.Parallel()

	def := TableDef{Schema: "ods", Name: "orders", Columns: []ColumnDef{
		{Name: "id", SQLType: "INTEGER", PrimaryKey: true},
		{Name: "amount", SQLType: "NUMERIC", Default: "0"},
	}}
	stg := def.WithoutConstraints("stg", "orders_stg")

	if stg.FQN() != "stg.orders_stg" {
		t.Fatalf("FQN() = %q, want %q", stg.FQN(), "stg.orders_stg")
	}
	if len(stg.PrimaryKey()) != 0 {
		t.Fatalf("PrimaryKey() = %v, want none", stg.PrimaryKey())
	}
	for _, c := range stg.Columns {
		if !c.Nullable || c.Default != "" {
			t.Fatalf("column %s keeps constraints: %+v", c.Name, c)
		}
	}
	if !def.Columns[0].PrimaryKey {
		t.Fatalf("original definition was mutated")
	}
}

var benchmarkSink string

func BenchmarkBuildCreateTableSQL_LargeSchema(b *testing.B) {
	cols := make([]ColumnDef, 0, 64)
	for i := 0; i < 64; i++ {
		cols = append(cols, ColumnDef{Name: "col_" + strconv.Itoa(i), SQLType: "TEXT", Nullable: true})
	}
	def := TableDef{Name: "large_table", Columns: cols}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sql, err := BuildCreateTableSQL(def, dq)
		if err != nil {
			b.Fatalf("BuildCreateTableSQL() error = %v", err)
		}
		benchmarkSink = sql
	}
}
