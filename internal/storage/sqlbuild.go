package storage

import (
	"fmt"
	"regexp"
	"strings"

	"mergeflow/internal/ddl"
)

// BaseDialect implements the parts of Dialect that are common to every
// family. Concrete dialects embed it and add upsert and staged-update SQL.
type BaseDialect struct {
	K             Kind
	QuoteFn       func(string) string
	PlaceholderFn func(int) string
	Params        int
	RowsPerStmt   int
	// TruncateFmt renders the truncate statement, e.g. "TRUNCATE TABLE %s".
	// Dialects whose TRUNCATE commits implicitly use "DELETE FROM %s".
	TruncateFmt string
}

func (b BaseDialect) Kind() Kind { return b.K }

func (b BaseDialect) Quote(ident string) string { return b.QuoteFn(ident) }

func (b BaseDialect) Placeholder(n int) string {
	if b.PlaceholderFn == nil {
		return "?"
	}
	return b.PlaceholderFn(n)
}

func (b BaseDialect) MaxParams() int { return b.Params }

func (b BaseDialect) MaxRows() int { return b.RowsPerStmt }

// Table quotes a dotted table name.
func (b BaseDialect) Table(fqn string) string { return ddl.QuoteFQN(fqn, b.QuoteFn) }

// List quotes and joins identifiers, optionally prefixed by an alias.
func (b BaseDialect) List(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if alias != "" {
			out[i] = alias + "." + b.QuoteFn(c)
		} else {
			out[i] = b.QuoteFn(c)
		}
	}
	return strings.Join(out, ", ")
}

// Tuples renders rows groups of ncols bind markers starting at marker 1:
// "($1, $2), ($3, $4)".
func (b BaseDialect) Tuples(ncols, rows int) string {
	var sb strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < ncols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.Placeholder(n))
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// On renders "l.k1 = r.k1 AND l.k2 = r.k2".
func (b BaseDialect) On(left, right string, key []string) string {
	parts := make([]string, len(key))
	for i, k := range key {
		q := b.QuoteFn(k)
		parts[i] = fmt.Sprintf("%s.%s = %s.%s", left, q, right, q)
	}
	return strings.Join(parts, " AND ")
}

// Assign renders "c = src.c" for each column; targetAlias prefixes the
// left-hand side when non-empty.
func (b BaseDialect) Assign(targetAlias, srcAlias string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		q := b.QuoteFn(c)
		lhs := q
		if targetAlias != "" {
			lhs = targetAlias + "." + q
		}
		parts[i] = fmt.Sprintf("%s = %s.%s", lhs, srcAlias, q)
	}
	return strings.Join(parts, ", ")
}

func (b BaseDialect) TruncateSQL(table string) string {
	f := b.TruncateFmt
	if f == "" {
		f = "TRUNCATE TABLE %s"
	}
	return fmt.Sprintf(f, b.Table(table))
}

func (b BaseDialect) InsertSQL(table string, columns []string, rows int) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		b.Table(table), b.List("", columns), b.Tuples(len(columns), rows))
}

// StagedInsertSQL is the anti-join insert of staging rows absent from the
// target.
func (b BaseDialect) StagedInsertSQL(s Staged) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s stg LEFT JOIN %s ods ON %s WHERE ods.%s IS NULL",
		b.Table(s.Target), b.List("", s.Columns), b.List("stg", s.Columns),
		b.Table(s.Staging), b.Table(s.Target), b.On("ods", "stg", s.Key), b.QuoteFn(s.Key[0]),
	)
}

// ChangedPredicate renders the staged-update filter: the target row has a
// fingerprint and it differs from the staged one. Without a fingerprint
// column every matched row qualifies.
func (b BaseDialect) ChangedPredicate(s Staged) string {
	if s.Fingerprint == "" {
		return "1 = 1"
	}
	fp := b.QuoteFn(s.Fingerprint)
	return fmt.Sprintf("ods.%s IS NOT NULL AND stg.%s <> ods.%s", fp, fp, fp)
}

func (b BaseDialect) UpdatedRows(affected, inserted int64) int64 {
	if d := affected - inserted; d > 0 {
		return d
	}
	return 0
}

func (b BaseDialect) MapType(t ddl.ColumnType) (string, error) {
	return ddl.MapType(string(b.K), t)
}

func (b BaseDialect) CreateTableSQL(def ddl.TableDef) (string, error) {
	mapped, err := ddl.MapTable(string(b.K), def)
	if err != nil {
		return "", err
	}
	return ddl.BuildCreateTableSQL(mapped, b.QuoteFn)
}

// NonKey returns the columns not in key, preserving order.
func NonKey(cols, key []string) []string {
	skip := make(map[string]struct{}, len(key))
	for _, k := range key {
		skip[strings.ToLower(k)] = struct{}{}
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if _, ok := skip[strings.ToLower(c)]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// RowsPerStatement returns how many rows of ncols columns fit one statement
// of d.
func RowsPerStatement(d Dialect, ncols int) int {
	if ncols <= 0 {
		return 1
	}
	n := d.MaxParams() / ncols
	if m := d.MaxRows(); m > 0 && n > m {
		n = m
	}
	return max(n, 1)
}

// Flatten lays rows out as one argument list.
func Flatten(rows [][]any) []any {
	if len(rows) == 0 {
		return nil
	}
	out := make([]any, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

// DoubleQuote is the SQL-standard identifier quoting used by Postgres,
// SQLite, Oracle and DB2.
func DoubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

var plainIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_$#]*$`)

// QuoteIfNeeded leaves plain identifiers unquoted so engines that fold to
// upper case (Oracle, DB2) resolve them case-insensitively. Reserved words
// are quoted in their folded spelling; anything else is quoted verbatim.
func QuoteIfNeeded(reserved map[string]bool) func(string) string {
	return func(id string) string {
		if !plainIdent.MatchString(id) {
			return DoubleQuote(id)
		}
		if up := strings.ToUpper(id); reserved[up] {
			return DoubleQuote(up)
		}
		return id
	}
}

// FoldedName returns the catalog spelling of an identifier in an upper-case
// folding engine: plain names are stored upper-cased, quoted ones verbatim.
func FoldedName(id string) string {
	if plainIdent.MatchString(id) {
		return strings.ToUpper(id)
	}
	return id
}
