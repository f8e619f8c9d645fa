package mysql

import (
	"fmt"
	"strings"

	"mergeflow/internal/storage"
)

// Dialect renders MySQL SQL. Truncation is a DELETE because TRUNCATE commits
// implicitly.
type Dialect struct{ storage.BaseDialect }

var _ storage.Dialect = Dialect{}

// NewDialect returns the MySQL dialect.
func NewDialect() Dialect {
	return Dialect{storage.BaseDialect{
		K:           storage.MySQL,
		QuoteFn:     backtick,
		Params:      65535,
		RowsPerStmt: 1000,
		TruncateFmt: "DELETE FROM %s",
	}}
}

// UpsertSQL renders INSERT ... ON DUPLICATE KEY UPDATE. With a fingerprint
// column every assignment keeps the stored value when the fingerprint is
// unchanged; the fingerprint itself is assigned last so the comparisons see
// the stored one. Ignored conflicts use a self-assignment of the first key
// column, which MySQL reports as zero affected rows.
func (d Dialect) UpsertSQL(u storage.Upsert) (string, error) {
	if len(u.Key) == 0 {
		return "", fmt.Errorf("upsert: conflict key must not be empty")
	}
	if len(u.Columns) == 0 || u.Rows <= 0 {
		return "", fmt.Errorf("upsert: columns and rows must not be empty")
	}
	var sb strings.Builder
	sb.WriteString(d.InsertSQL(u.Table, u.Columns, u.Rows))
	sb.WriteString(" ON DUPLICATE KEY UPDATE ")

	upd := storage.NonKey(u.Columns, u.Key)
	if u.Action == storage.ConflictIgnore || len(upd) == 0 {
		k := d.Quote(u.Key[0])
		sb.WriteString(k + " = " + k)
		return sb.String(), nil
	}

	fp := ""
	if u.Fingerprint != "" {
		fp = d.Quote(u.Fingerprint)
	}
	parts := make([]string, 0, len(upd))
	hasFP := false
	for _, c := range upd {
		q := d.Quote(c)
		switch {
		case fp == "":
			parts = append(parts, fmt.Sprintf("%s = VALUES(%s)", q, q))
		case strings.EqualFold(c, u.Fingerprint):
			hasFP = true
		default:
			parts = append(parts, fmt.Sprintf("%s = IF(%s <=> VALUES(%s), %s, VALUES(%s))", q, fp, fp, q, q))
		}
	}
	if hasFP {
		parts = append(parts, fmt.Sprintf("%s = VALUES(%s)", fp, fp))
	}
	sb.WriteString(strings.Join(parts, ", "))
	return sb.String(), nil
}

// UpdatedRows accounts for MySQL reporting 2 affected rows per updated row
// and 1 per inserted row.
func (d Dialect) UpdatedRows(affected, inserted int64) int64 {
	if n := (affected - inserted) / 2; n > 0 {
		return n
	}
	return 0
}

func (d Dialect) StagedUpdateSQL(s storage.Staged) string {
	return fmt.Sprintf("UPDATE %s AS ods JOIN %s AS stg ON %s SET %s WHERE %s",
		d.Table(s.Target), d.Table(s.Staging), d.On("ods", "stg", s.Key),
		d.Assign("ods", "stg", storage.NonKey(s.Columns, s.Key)), d.ChangedPredicate(s))
}

const currentSchema = "COALESCE(NULLIF(?, ''), DATABASE())"

func (d Dialect) TableExistsSQL(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = ` + currentSchema + ` AND table_name = ?`, []any{schema, table}
}

func (d Dialect) ColumnsSQL(schema, table string) (string, []any) {
	return `SELECT column_name, data_type, COALESCE(character_maximum_length, 0),
       COALESCE(numeric_precision, 0), COALESCE(numeric_scale, 0), is_nullable
FROM information_schema.columns
WHERE table_schema = ` + currentSchema + ` AND table_name = ?
ORDER BY ordinal_position`, []any{schema, table}
}

func (d Dialect) PrimaryKeySQL(schema, table string) (string, []any) {
	return `SELECT column_name FROM information_schema.key_column_usage
WHERE constraint_name = 'PRIMARY' AND table_schema = ` + currentSchema + ` AND table_name = ?
ORDER BY ordinal_position`, []any{schema, table}
}
