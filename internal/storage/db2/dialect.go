// Package db2 implements the IBM DB2 dialect. The driver itself
// (github.com/ibmdb/go_ibm_db) needs the DB2 CLI libraries, so it is only
// compiled into binaries built with -tags db2; the dialect is always
// available for SQL rendering.
package db2

import (
	"fmt"
	"strings"

	"mergeflow/internal/storage"
)

var reserved = map[string]bool{
	"DATE": true, "GROUP": true, "ORDER": true, "TIME": true, "TIMESTAMP": true, "USER": true,
	"VALUE": true, "VALUES": true, "YEAR": true,
}

var mergeStyle = storage.MergeStyle{TableAlias: "AS", MatchedAnd: true}

// Dialect renders DB2 LUW SQL.
type Dialect struct{ storage.BaseDialect }

var _ storage.Dialect = Dialect{}

// NewDialect returns the DB2 dialect. Tables are emptied with DELETE, since
// TRUNCATE ... IMMEDIATE must open its unit of work and cannot be rolled back.
func NewDialect() Dialect {
	return Dialect{storage.BaseDialect{
		K:           storage.DB2,
		QuoteFn:     storage.QuoteIfNeeded(reserved),
		Params:      32767,
		RowsPerStmt: 500,
		TruncateFmt: "DELETE FROM %s",
	}}
}

// typedTuples renders the VALUES rows of a MERGE source. Parameter markers
// are cast to the target column types when known, since DB2 cannot infer
// them there.
func (d Dialect) typedTuples(u storage.Upsert) string {
	if len(u.Types) != len(u.Columns) {
		return d.Tuples(len(u.Columns), u.Rows)
	}
	row := make([]string, len(u.Columns))
	for i, t := range u.Types {
		row[i] = fmt.Sprintf("CAST(? AS %s)", t)
	}
	one := "(" + strings.Join(row, ", ") + ")"
	rows := make([]string, u.Rows)
	for i := range rows {
		rows[i] = one
	}
	return strings.Join(rows, ", ")
}

func (d Dialect) UpsertSQL(u storage.Upsert) (string, error) {
	src := fmt.Sprintf("(VALUES %s) AS src (%s)", d.typedTuples(u), d.List("", u.Columns))
	return d.MergeSQL(u, src, mergeStyle)
}

func (d Dialect) StagedUpdateSQL(s storage.Staged) string { return d.MergeUpdateSQL(s, mergeStyle) }

const tabschema = "COALESCE(NULLIF(CAST(? AS VARCHAR(128)), ''), CURRENT SCHEMA)"

func (d Dialect) TableExistsSQL(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM syscat.tables WHERE tabschema = ` + tabschema + ` AND tabname = CAST(? AS VARCHAR(128))`,
		[]any{storage.FoldedName(schema), storage.FoldedName(table)}
}

// ColumnsSQL reports length twice: for DECIMAL columns syscat.columns keeps
// the precision in length.
func (d Dialect) ColumnsSQL(schema, table string) (string, []any) {
	return `SELECT colname, typename, length, length, scale, nulls
FROM syscat.columns WHERE tabschema = ` + tabschema + ` AND tabname = CAST(? AS VARCHAR(128))
ORDER BY colno`, []any{storage.FoldedName(schema), storage.FoldedName(table)}
}

func (d Dialect) PrimaryKeySQL(schema, table string) (string, []any) {
	return `SELECT k.colname
FROM syscat.keycoluse k
JOIN syscat.tabconst c ON c.constname = k.constname AND c.tabschema = k.tabschema AND c.tabname = k.tabname
WHERE c.type = 'P' AND c.tabschema = ` + tabschema + ` AND c.tabname = CAST(? AS VARCHAR(128))
ORDER BY k.colseq`, []any{storage.FoldedName(schema), storage.FoldedName(table)}
}

// DSN returns cfg.DSN, or a CLI connection string built from the discrete
// fields.
func DSN(cfg storage.Config) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 50000
	}
	parts := []string{
		"HOSTNAME=" + cfg.Host,
		"DATABASE=" + cfg.Database,
		fmt.Sprintf("PORT=%d", port),
		"PROTOCOL=TCPIP",
		"UID=" + cfg.User,
		"PWD=" + cfg.Password,
	}
	for k, v := range cfg.Options {
		parts = append(parts, strings.ToUpper(k)+"="+v)
	}
	return strings.Join(parts, ";")
}
