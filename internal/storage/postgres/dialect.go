package postgres

import (
	"strconv"

	"mergeflow/internal/storage"
)

// Dialect renders Postgres SQL.
type Dialect struct{ storage.BaseDialect }

var _ storage.Dialect = Dialect{}

// NewDialect returns the Postgres dialect. Redshift and other wire-compatible
// engines share it.
func NewDialect() Dialect {
	return Dialect{storage.BaseDialect{
		K:             storage.Postgres,
		QuoteFn:       storage.DoubleQuote,
		PlaceholderFn: func(n int) string { return "$" + strconv.Itoa(n) },
		Params:        65535,
	}}
}

func (d Dialect) UpsertSQL(u storage.Upsert) (string, error) {
	return d.OnConflictSQL(u, "IS DISTINCT FROM")
}

func (d Dialect) StagedUpdateSQL(s storage.Staged) string { return d.UpdateFromSQL(s) }

const currentSchema = "COALESCE(NULLIF($1::text, ''), current_schema())"

func (d Dialect) TableExistsSQL(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = ` + currentSchema + ` AND table_name = $2`, []any{schema, table}
}

func (d Dialect) ColumnsSQL(schema, table string) (string, []any) {
	return `SELECT column_name::text, data_type::text,
       COALESCE(character_maximum_length, 0)::int, COALESCE(numeric_precision, 0)::int,
       COALESCE(numeric_scale, 0)::int, is_nullable::text
FROM information_schema.columns
WHERE table_schema = ` + currentSchema + ` AND table_name = $2
ORDER BY ordinal_position`, []any{schema, table}
}

func (d Dialect) PrimaryKeySQL(schema, table string) (string, []any) {
	return `SELECT kcu.column_name::text
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = ` + currentSchema + ` AND tc.table_name = $2
ORDER BY kcu.ordinal_position`, []any{schema, table}
}
