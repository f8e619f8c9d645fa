// Package sqlite implements the SQLite backend (modernc.org/sqlite, pure Go).
// It is the backend exercised by the engine's end-to-end tests.
package sqlite

import (
	"mergeflow/internal/storage"
)

// Dialect renders SQLite SQL. Upserts use ON CONFLICT, staged updates use
// UPDATE ... FROM (SQLite 3.33+), and truncation is a DELETE so it stays
// inside the batch transaction.
type Dialect struct{ storage.BaseDialect }

var _ storage.Dialect = Dialect{}

// NewDialect returns the SQLite dialect.
func NewDialect() Dialect {
	return Dialect{storage.BaseDialect{
		K:           storage.SQLite,
		QuoteFn:     storage.DoubleQuote,
		Params:      32766,
		TruncateFmt: "DELETE FROM %s",
	}}
}

func (d Dialect) UpsertSQL(u storage.Upsert) (string, error) {
	return d.OnConflictSQL(u, "IS NOT")
}

func (d Dialect) StagedUpdateSQL(s storage.Staged) string { return d.UpdateFromSQL(s) }

func (d Dialect) TableExistsSQL(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM pragma_table_list WHERE schema = COALESCE(NULLIF(?, ''), 'main') AND name = ? AND type = 'table'`,
		[]any{schema, table}
}

func (d Dialect) ColumnsSQL(schema, table string) (string, []any) {
	return `SELECT name, type, 0, 0, 0, CASE WHEN "notnull" = 1 OR pk > 0 THEN 'NO' ELSE 'YES' END
FROM pragma_table_info(?, COALESCE(NULLIF(?, ''), 'main')) ORDER BY cid`, []any{table, schema}
}

func (d Dialect) PrimaryKeySQL(schema, table string) (string, []any) {
	return `SELECT name FROM pragma_table_info(?, COALESCE(NULLIF(?, ''), 'main')) WHERE pk > 0 ORDER BY pk`,
		[]any{table, schema}
}
