package storage

import (
	"fmt"
	"strings"
)

func (u Upsert) validate() error {
	if strings.TrimSpace(u.Table) == "" {
		return fmt.Errorf("upsert: table must not be empty")
	}
	if len(u.Columns) == 0 {
		return fmt.Errorf("upsert: columns must not be empty")
	}
	if len(u.Key) == 0 {
		return fmt.Errorf("upsert: conflict key must not be empty")
	}
	if u.Rows <= 0 {
		return fmt.Errorf("upsert: rows must be > 0")
	}
	return nil
}

// updatable returns the non-key columns an upsert may overwrite.
func (u Upsert) updatable() []string { return NonKey(u.Columns, u.Key) }

// OnConflictSQL renders the Postgres-family upsert:
//
//	INSERT INTO t AS tgt (...) VALUES (...), (...)
//	ON CONFLICT (key) DO UPDATE SET c = EXCLUDED.c
//	[WHERE tgt.fp <distinct> EXCLUDED.fp]
//
// distinct is the null-safe inequality operator of the dialect.
func (b BaseDialect) OnConflictSQL(u Upsert, distinct string) (string, error) {
	if err := u.validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s AS tgt (%s) VALUES %s ON CONFLICT (%s) ",
		b.Table(u.Table), b.List("", u.Columns), b.Tuples(len(u.Columns), u.Rows), b.List("", u.Key))

	upd := u.updatable()
	if u.Action == ConflictIgnore || len(upd) == 0 {
		sb.WriteString("DO NOTHING")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "DO UPDATE SET %s", b.Assign("", "EXCLUDED", upd))
	if u.Fingerprint != "" {
		fp := b.QuoteFn(u.Fingerprint)
		fmt.Fprintf(&sb, " WHERE tgt.%s %s EXCLUDED.%s", fp, distinct, fp)
	}
	return sb.String(), nil
}

// UpdateFromSQL renders the Postgres-family staged update:
//
//	UPDATE t AS ods SET c = stg.c FROM staging AS stg WHERE <key> AND <changed>
func (b BaseDialect) UpdateFromSQL(s Staged) string {
	return fmt.Sprintf("UPDATE %s AS ods SET %s FROM %s AS stg WHERE %s AND %s",
		b.Table(s.Target), b.Assign("", "stg", NonKey(s.Columns, s.Key)), b.Table(s.Staging),
		b.On("ods", "stg", s.Key), b.ChangedPredicate(s))
}

// MergeStyle captures the syntax differences between MERGE dialects.
type MergeStyle struct {
	// TableAlias joins a table and its alias ("AS" or a blank).
	TableAlias string
	// MatchedAnd puts the change filter in WHEN MATCHED AND ... (DB2, MSSQL)
	// instead of a trailing WHERE on the update (Oracle).
	MatchedAnd bool
	// Terminator is appended to the statement (";" for MSSQL).
	Terminator string
}

func (m MergeStyle) alias(table, alias string) string {
	if m.TableAlias == "" {
		return table + " " + alias
	}
	return table + " " + m.TableAlias + " " + alias
}

// MergeSQL renders
//
//	MERGE INTO t tgt USING <source> ON (key)
//	WHEN MATCHED [AND changed] THEN UPDATE SET ... [WHERE changed]
//	WHEN NOT MATCHED THEN INSERT (...) VALUES (src...)
//
// source must already carry the alias "src" and expose u.Columns.
func (b BaseDialect) MergeSQL(u Upsert, source string, st MergeStyle) (string, error) {
	if err := u.validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s USING %s ON (%s)",
		st.alias(b.Table(u.Table), "tgt"), source, b.On("tgt", "src", u.Key))

	upd := u.updatable()
	if u.Action != ConflictIgnore && len(upd) > 0 {
		changed := ""
		if u.Fingerprint != "" {
			fp := b.QuoteFn(u.Fingerprint)
			changed = fmt.Sprintf("(tgt.%s IS NULL OR tgt.%s <> src.%s)", fp, fp, fp)
		}
		sb.WriteString(" WHEN MATCHED")
		if changed != "" && st.MatchedAnd {
			sb.WriteString(" AND " + changed)
		}
		fmt.Fprintf(&sb, " THEN UPDATE SET %s", b.Assign("tgt", "src", upd))
		if changed != "" && !st.MatchedAnd {
			sb.WriteString(" WHERE " + changed)
		}
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)%s",
		b.List("", u.Columns), b.List("src", u.Columns), st.Terminator)
	return sb.String(), nil
}

// MergeUpdateSQL renders the staged update for MERGE dialects: matched rows
// whose fingerprint changed take the staged values.
func (b BaseDialect) MergeUpdateSQL(s Staged, st MergeStyle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s USING %s ON (%s) WHEN MATCHED",
		st.alias(b.Table(s.Target), "ods"), st.alias(b.Table(s.Staging), "stg"), b.On("ods", "stg", s.Key))
	pred := b.ChangedPredicate(s)
	if st.MatchedAnd {
		sb.WriteString(" AND " + pred)
	}
	fmt.Fprintf(&sb, " THEN UPDATE SET %s", b.Assign("ods", "stg", NonKey(s.Columns, s.Key)))
	if !st.MatchedAnd {
		sb.WriteString(" WHERE " + pred)
	}
	sb.WriteString(st.Terminator)
	return sb.String()
}
