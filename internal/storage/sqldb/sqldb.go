// Package sqldb implements storage.Driver on top of database/sql. The MySQL,
// MSSQL, SQLite, Oracle and DB2 backends wrap it with their own dialect and
// registered database/sql driver name.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mergeflow/internal/batch"
	"mergeflow/internal/ddl"
	"mergeflow/internal/storage"
)

// Pool tuning applied by Open.
const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = time.Hour
)

// BulkFunc loads rows into table through a driver-native bulk path within tx.
type BulkFunc func(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error)

// Driver is a database/sql backed storage.Driver.
type Driver struct {
	db      *sql.DB
	dialect storage.Dialect
	bulk    BulkFunc
}

var _ storage.Driver = (*Driver)(nil)

// Open opens driverName with dsn, applies pool limits and pings with a short
// timeout so an unreachable backend fails here rather than mid-extraction.
func Open(ctx context.Context, driverName, dsn string, d storage.Dialect, maxOpen int) (*Driver, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", d.Kind())
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Kind(), err)
	}
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(defaultMaxIdleConns, maxOpen))
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	drv := New(db, d)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := drv.Ping(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return drv, nil
}

// New wraps an already-open handle.
func New(db *sql.DB, d storage.Dialect) *Driver {
	return &Driver{db: db, dialect: d}
}

// WithBulk makes transactions begun by d implement storage.Copier via fn.
func (d *Driver) WithBulk(fn BulkFunc) *Driver {
	d.bulk = fn
	return d
}

// DB exposes the handle for backend-specific setup.
func (d *Driver) DB() *sql.DB { return d.db }

func (d *Driver) Dialect() storage.Dialect { return d.dialect }

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: ping: %w", d.dialect.Kind(), err)
	}
	return nil
}

func (d *Driver) Close() error { return d.db.Close() }

func (d *Driver) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", d.dialect.Kind(), err)
	}
	if d.bulk != nil {
		return &bulkTx{sqlTx: sqlTx{tx: tx}, bulk: d.bulk}, nil
	}
	return &sqlTx{tx: tx}, nil
}

func (d *Driver) Query(ctx context.Context, query string, args ...any) (*batch.Batch, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", d.dialect.Kind(), err)
	}
	defer rows.Close()

	var out *batch.Batch
	err = scanPages(rows, 0, func(b *batch.Batch) error { out = b; return nil })
	return out, err
}

func (d *Driver) Stream(ctx context.Context, query string, pageSize int, fn func(*batch.Batch) error) error {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%s: query: %w", d.dialect.Kind(), err)
	}
	defer rows.Close()
	return scanPages(rows, pageSize, fn)
}

func scanPages(rows *sql.Rows, pageSize int, fn func(*batch.Batch) error) error {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("column types: %w", err)
	}
	cols := make([]batch.Column, len(cts))
	binary := make([]bool, len(cts))
	for i, ct := range cts {
		cols[i] = batch.Column{Name: ct.Name(), Type: columnType(ct)}
		binary[i] = cols[i].Type.Name == "BLOB"
	}

	page := &batch.Batch{Columns: cols}
	emitted := false
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok && !binary[i] {
				vals[i] = string(b)
			}
		}
		page.Rows = append(page.Rows, vals)
		if pageSize > 0 && len(page.Rows) >= pageSize {
			if err := fn(page); err != nil {
				return err
			}
			emitted = true
			page = &batch.Batch{Columns: cols}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	if len(page.Rows) > 0 || !emitted {
		return fn(page)
	}
	return nil
}

// columnType maps a driver-reported column type onto a logical type. Types
// without a mapping are left zero; table creation reports them later.
func columnType(ct *sql.ColumnType) ddl.ColumnType {
	t, err := ddl.ParseType(ct.DatabaseTypeName())
	if err != nil {
		return ddl.ColumnType{}
	}
	switch t.Name {
	case "VARCHAR", "CHAR":
		if n, ok := ct.Length(); ok && n > 0 && n < 1<<20 {
			t.Size = int(n)
		}
	case "DECIMAL", "NUMERIC":
		if p, s, ok := ct.DecimalSize(); ok && p > 0 {
			t.Precision, t.Scale = int(p), int(s)
		}
	}
	return t
}

type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for every statement.
		return 0, nil
	}
	return n, nil
}

func (t *sqlTx) QueryInt(ctx context.Context, query string, args ...any) (int64, error) {
	var v sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return 0, err
	}
	return v.Int64, nil
}

func (t *sqlTx) Commit(context.Context) error { return t.tx.Commit() }

func (t *sqlTx) Rollback(context.Context) error { return t.tx.Rollback() }

type bulkTx struct {
	sqlTx
	bulk BulkFunc
}

var _ storage.Copier = (*bulkTx)(nil)

func (t *bulkTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return t.bulk(ctx, t.tx, table, columns, rows)
}
