package mssql

import (
	"fmt"
	"strconv"

	"mergeflow/internal/storage"
)

// Dialect renders T-SQL.
type Dialect struct{ storage.BaseDialect }

var _ storage.Dialect = Dialect{}

var mergeStyle = storage.MergeStyle{TableAlias: "AS", MatchedAnd: true, Terminator: ";"}

// NewDialect returns the SQL Server dialect. A request carries at most 2100
// parameters and a VALUES constructor at most 1000 rows.
func NewDialect() Dialect {
	return Dialect{storage.BaseDialect{
		K:             storage.MSSQL,
		QuoteFn:       msIdent,
		PlaceholderFn: func(n int) string { return "@p" + strconv.Itoa(n) },
		Params:        2000,
		RowsPerStmt:   1000,
	}}
}

func (d Dialect) UpsertSQL(u storage.Upsert) (string, error) {
	src := fmt.Sprintf("(VALUES %s) AS src (%s)", d.Tuples(len(u.Columns), u.Rows), d.List("", u.Columns))
	return d.MergeSQL(u, src, mergeStyle)
}

func (d Dialect) StagedUpdateSQL(s storage.Staged) string {
	return fmt.Sprintf("UPDATE ods SET %s FROM %s AS ods JOIN %s AS stg ON %s WHERE %s",
		d.Assign("ods", "stg", storage.NonKey(s.Columns, s.Key)), d.Table(s.Target), d.Table(s.Staging),
		d.On("ods", "stg", s.Key), d.ChangedPredicate(s))
}

const currentSchema = "COALESCE(NULLIF(@p1, ''), SCHEMA_NAME())"

func (d Dialect) TableExistsSQL(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = ` + currentSchema + ` AND TABLE_NAME = @p2`, []any{schema, table}
}

func (d Dialect) ColumnsSQL(schema, table string) (string, []any) {
	return `SELECT COLUMN_NAME, DATA_TYPE, COALESCE(CHARACTER_MAXIMUM_LENGTH, 0),
       COALESCE(NUMERIC_PRECISION, 0), COALESCE(NUMERIC_SCALE, 0), IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = ` + currentSchema + ` AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`, []any{schema, table}
}

func (d Dialect) PrimaryKeySQL(schema, table string) (string, []any) {
	return `SELECT kcu.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
  ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME AND kcu.TABLE_SCHEMA = tc.TABLE_SCHEMA AND kcu.TABLE_NAME = tc.TABLE_NAME
WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = ` + currentSchema + ` AND tc.TABLE_NAME = @p2
ORDER BY kcu.ORDINAL_POSITION`, []any{schema, table}
}
