package oracle

import (
	"fmt"
	"strconv"
	"strings"

	"mergeflow/internal/storage"
)

// reserved lists the Oracle reserved words that commonly collide with column
// names.
var reserved = map[string]bool{
	"ACCESS": true, "COMMENT": true, "DATE": true, "FILE": true, "GROUP": true, "LEVEL": true,
	"MODE": true, "NUMBER": true, "ORDER": true, "RESOURCE": true, "ROW": true, "ROWID": true,
	"ROWS": true, "SESSION": true, "SIZE": true, "START": true, "TABLE": true, "UID": true,
	"USER": true, "VALUES": true,
}

var mergeStyle = storage.MergeStyle{}

// Dialect renders Oracle SQL. Multi-row statements select bind variables
// from DUAL since VALUES row constructors are unavailable before 23c.
type Dialect struct{ storage.BaseDialect }

var _ storage.Dialect = Dialect{}

// NewDialect returns the Oracle dialect.
func NewDialect() Dialect {
	return Dialect{storage.BaseDialect{
		K:             storage.Oracle,
		QuoteFn:       storage.QuoteIfNeeded(reserved),
		PlaceholderFn: func(n int) string { return ":" + strconv.Itoa(n) },
		Params:        65535,
		RowsPerStmt:   500,
		TruncateFmt:   "DELETE FROM %s",
	}}
}

// selectDual renders "SELECT :1 a, :2 b FROM DUAL UNION ALL SELECT ...".
func (d Dialect) selectDual(cols []string, rows int) string {
	var sb strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(" UNION ALL ")
		}
		sb.WriteString("SELECT ")
		for i, c := range cols {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.Placeholder(n) + " " + d.Quote(c))
			n++
		}
		sb.WriteString(" FROM DUAL")
	}
	return sb.String()
}

func (d Dialect) InsertSQL(table string, columns []string, rows int) string {
	return fmt.Sprintf("INSERT INTO %s (%s) %s", d.Table(table), d.List("", columns), d.selectDual(columns, rows))
}

func (d Dialect) UpsertSQL(u storage.Upsert) (string, error) {
	return d.MergeSQL(u, "("+d.selectDual(u.Columns, u.Rows)+") src", mergeStyle)
}

func (d Dialect) StagedUpdateSQL(s storage.Staged) string { return d.MergeUpdateSQL(s, mergeStyle) }

const owner = "NVL(:1, SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA'))"

func (d Dialect) TableExistsSQL(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM all_tables WHERE owner = ` + owner + ` AND table_name = :2`,
		[]any{storage.FoldedName(schema), storage.FoldedName(table)}
}

func (d Dialect) ColumnsSQL(schema, table string) (string, []any) {
	return `SELECT column_name, data_type, char_length, NVL(data_precision, 0), NVL(data_scale, 0), nullable
FROM all_tab_columns WHERE owner = ` + owner + ` AND table_name = :2
ORDER BY column_id`, []any{storage.FoldedName(schema), storage.FoldedName(table)}
}

func (d Dialect) PrimaryKeySQL(schema, table string) (string, []any) {
	return `SELECT cc.column_name
FROM all_constraints c
JOIN all_cons_columns cc ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
WHERE c.constraint_type = 'P' AND c.owner = ` + owner + ` AND c.table_name = :2
ORDER BY cc.position`, []any{storage.FoldedName(schema), storage.FoldedName(table)}
}
