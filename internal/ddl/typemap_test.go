package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergeflow/internal/apperr"
)

func TestParseType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want ColumnType
	}{
		{"varchar(40)", ColumnType{Name: "VARCHAR", Size: 40}},
		{"CHARACTER VARYING(12)", ColumnType{Name: "VARCHAR", Size: 12}},
		{"NUMERIC(12, 2)", ColumnType{Name: "NUMERIC", Precision: 12, Scale: 2}},
		{"NUMBER(10)", ColumnType{Name: "NUMERIC", Precision: 10}},
		{"double precision", ColumnType{Name: "DOUBLE"}},
		{"int4", ColumnType{Name: "INTEGER"}},
		{"timestamp with time zone", ColumnType{Name: "TIMESTAMP"}},
		{"TIMESTAMP(6)", ColumnType{Name: "TIMESTAMP"}},
		{"text", ColumnType{Name: "CLOB"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTypeUnsupported(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"XML", "GEOMETRY", "INTERVAL DAY", "varchar(", ""} {
		_, err := ParseType(in)
		assert.ErrorIs(t, err, apperr.ErrUnsupportedType, in)
	}
}

func TestMapType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dialect string
		in      ColumnType
		want    string
	}{
		{"postgres", ColumnType{Name: "DOUBLE"}, "DOUBLE PRECISION"},
		{"postgres", ColumnType{Name: "VARCHAR", Size: 40}, "VARCHAR(40)"},
		{"postgres", ColumnType{Name: "VARCHAR"}, "VARCHAR"},
		{"postgres", ColumnType{Name: "CLOB"}, "TEXT"},
		{"postgres", ColumnType{Name: "BLOB"}, "BYTEA"},
		{"mysql", ColumnType{Name: "VARCHAR"}, "VARCHAR(255)"},
		{"mysql", ColumnType{Name: "TIMESTAMP"}, "DATETIME"},
		{"oracle", ColumnType{Name: "VARCHAR", Size: 10}, "VARCHAR2(10)"},
		{"oracle", ColumnType{Name: "NUMERIC", Precision: 12, Scale: 2}, "NUMBER(12,2)"},
		{"oracle", ColumnType{Name: "BIGINT"}, "NUMBER(19)"},
		{"db2", ColumnType{Name: "DECIMAL", Precision: 9}, "DECIMAL(9)"},
		{"mssql", ColumnType{Name: "CLOB"}, "NVARCHAR(MAX)"},
		{"sqlite", ColumnType{Name: "BIGINT"}, "INTEGER"},
	}
	for _, tt := range tests {
		got, err := MapType(tt.dialect, tt.in)
		require.NoError(t, err, "%s %s", tt.dialect, tt.in)
		assert.Equal(t, tt.want, got, "%s %s", tt.dialect, tt.in)
	}
}

func TestMapTypeNoSilentFallback(t *testing.T) {
	t.Parallel()

	_, err := MapType("oracle", ColumnType{Name: "TIME"})
	require.ErrorIs(t, err, apperr.ErrUnsupportedType)

	_, err = MapType("postgres", ColumnType{Name: "JSONB"})
	require.ErrorIs(t, err, apperr.ErrUnsupportedType)

	_, err = MapType("informix", ColumnType{Name: "INTEGER"})
	require.ErrorIs(t, err, apperr.ErrUnsupportedType)
}

func TestMapTableStopsOnFirstUnsupported(t *testing.T) {
	t.Parallel()

	def := TableDef{Name: "t", Columns: []ColumnDef{
		{Name: "id", Type: ColumnType{Name: "INTEGER"}},
		{Name: "at", Type: ColumnType{Name: "TIME"}},
	}}
	_, err := MapTable("oracle", def)
	require.ErrorIs(t, err, apperr.ErrUnsupportedType)
	assert.Contains(t, err.Error(), "column at")

	mapped, err := MapTable("postgres", def)
	require.NoError(t, err)
	assert.Equal(t, "INTEGER", mapped.Columns[0].SQLType)
	assert.Equal(t, "TIME", mapped.Columns[1].SQLType)
	assert.Empty(t, def.Columns[0].SQLType)
}
