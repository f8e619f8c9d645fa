// Package storage contains the dialect-agnostic contracts of the backend
// drivers (Driver, Tx, Dialect), the dialect registry, and SQL building
// helpers shared by the concrete backends under internal/storage/*.
//
// Backends register a Factory at init time; callers obtain a Driver via
// storage.New without importing the backend package directly (see
// internal/storage/all).
package storage

import (
	"context"

	"mergeflow/internal/batch"
	"mergeflow/internal/ddl"
)

// ConflictAction selects what an upsert does with rows whose key exists.
type ConflictAction string

const (
	ConflictUpdate ConflictAction = "update"
	ConflictIgnore ConflictAction = "ignore"
)

// Upsert describes one multi-row upsert statement.
type Upsert struct {
	Table   string   // fully-qualified, unquoted
	Columns []string // insert column order
	Key     []string // conflict key
	Action  ConflictAction
	// Fingerprint names the fingerprint column. When set, matched rows whose
	// fingerprint is unchanged are left untouched.
	Fingerprint string
	Rows        int
	// Types optionally carries the target SQL type of each column, for
	// dialects that cannot infer bind types inside a VALUES source (DB2).
	Types []string
}

// Staged describes the diff/apply statements of a staged sync.
type Staged struct {
	Target      string
	Staging     string
	Columns     []string
	Key         []string
	Fingerprint string
}

// Dialect renders SQL for one dialect family. Implementations are stateless.
type Dialect interface {
	Kind() Kind
	// Quote quotes one identifier segment.
	Quote(ident string) string
	// Placeholder returns the n-th (1-based) bind marker.
	Placeholder(n int) string
	// MaxParams bounds the bind parameters of one statement.
	MaxParams() int
	// MaxRows bounds the rows of one multi-row statement; 0 means no bound
	// beyond MaxParams.
	MaxRows() int

	TruncateSQL(table string) string
	InsertSQL(table string, columns []string, rows int) string
	UpsertSQL(u Upsert) (string, error)
	StagedUpdateSQL(s Staged) string
	StagedInsertSQL(s Staged) string
	// UpdatedRows converts a driver's affected-row count for an upsert into
	// updated rows, given the rows known to be newly inserted.
	UpdatedRows(affected, inserted int64) int64

	// TableExistsSQL returns a query yielding a single count.
	TableExistsSQL(schema, table string) (string, []any)
	// ColumnsSQL returns a query yielding, per column in table order:
	// name, type name, length, precision, scale, nullable.
	ColumnsSQL(schema, table string) (string, []any)
	// PrimaryKeySQL returns a query yielding primary key column names in
	// key order.
	PrimaryKeySQL(schema, table string) (string, []any)

	MapType(t ddl.ColumnType) (string, error)
	CreateTableSQL(def ddl.TableDef) (string, error)
}

// Tx is a unit of work on one connection.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryInt(ctx context.Context, sql string, args ...any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Copier is implemented by transactions with a native bulk-load path
// (Postgres COPY). The merge engine prefers it for plain inserts.
type Copier interface {
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Driver is the capability set the merge engine and chunk sources need from
// a backend. Every Begin acquires its own connection, released by Commit or
// Rollback.
type Driver interface {
	Dialect() Dialect
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (Tx, error)
	// Query reads every row of a parametrized query into one batch.
	Query(ctx context.Context, sql string, args ...any) (*batch.Batch, error)
	// Stream runs query and calls fn with consecutive pages of at most
	// pageSize rows (all rows in one page when pageSize <= 0). fn is called
	// at least once, so a query without rows still reports its columns.
	Stream(ctx context.Context, query string, pageSize int, fn func(*batch.Batch) error) error
	Close() error
}

// FQN joins schema and table.
func FQN(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}
