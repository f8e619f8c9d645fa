// Package postgres implements the Postgres backend using pgx v5. Plain
// inserts go through COPY; upserts and staged syncs use ON CONFLICT and
// UPDATE ... FROM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"mergeflow/internal/batch"
	"mergeflow/internal/ddl"
	"mergeflow/internal/storage"
)

// Repository is a pgxpool-backed storage.Driver.
type Repository struct {
	pool    *pgxpool.Pool
	dialect Dialect
}

var _ storage.Driver = (*Repository)(nil)

// NewRepository opens a pool for cfg and pings it.
func NewRepository(ctx context.Context, cfg storage.Config) (*Repository, error) {
	pc, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("pgxpool: parse config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	r := &Repository{pool: pool, dialect: NewDialect()}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// dsn returns cfg.DSN, or a postgres:// URL assembled from the discrete
// connection fields.
func dsn(cfg storage.Config) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := url.Values{}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (r *Repository) Dialect() storage.Dialect { return r.dialect }

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (r *Repository) Query(ctx context.Context, query string, args ...any) (*batch.Batch, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var out *batch.Batch
	err = r.scanPages(rows, 0, func(b *batch.Batch) error { out = b; return nil })
	return out, err
}

func (r *Repository) Stream(ctx context.Context, query string, pageSize int, fn func(*batch.Batch) error) error {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()
	return r.scanPages(rows, pageSize, fn)
}

func (r *Repository) scanPages(rows pgx.Rows, pageSize int, fn func(*batch.Batch) error) error {
	tm := pgtype.NewMap()
	if c := rows.Conn(); c != nil {
		tm = c.TypeMap()
	}
	fds := rows.FieldDescriptions()
	cols := make([]batch.Column, len(fds))
	for i, fd := range fds {
		cols[i] = batch.Column{Name: fd.Name, Type: fieldType(tm, fd)}
	}

	page := &batch.Batch{Columns: cols}
	emitted := false
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fmt.Errorf("postgres: values: %w", err)
		}
		for i, v := range vals {
			vals[i] = toPlain(v)
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
		return pgError("rows", err)
	}
	if len(page.Rows) > 0 || !emitted {
		return fn(page)
	}
	return nil
}

// fieldType maps a result field onto a logical type using the registered
// type name and the type modifier for length and precision.
func fieldType(tm *pgtype.Map, fd pgconn.FieldDescription) ddl.ColumnType {
	t, ok := tm.TypeForOID(fd.DataTypeOID)
	if !ok {
		return ddl.ColumnType{}
	}
	ct, err := ddl.ParseType(t.Name)
	if err != nil {
		return ddl.ColumnType{}
	}
	if mod := fd.TypeModifier; mod > 4 {
		switch ct.Name {
		case "VARCHAR", "CHAR":
			ct.Size = int(mod - 4)
		case "DECIMAL", "NUMERIC":
			ct.Precision = int((mod-4)>>16) & 0xffff
			ct.Scale = int(mod-4) & 0xffff
		}
	}
	return ct
}

// toPlain converts pgx decoded values without a natural Go scalar form.
func toPlain(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		dv, err := x.Value()
		if err != nil {
			return nil
		}
		return dv
	case [16]byte:
		return uuid.UUID(x).String()
	default:
		return v
	}
}

func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("postgres: %s: %s (%s): %w", op, pgErr.Detail, pgErr.SQLState(), err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

type pgTx struct{ tx pgx.Tx }

var _ storage.Copier = (*pgTx)(nil)

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, pgError("exec", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) QueryInt(ctx context.Context, sql string, args ...any) (int64, error) {
	var n *int64
	if err := t.tx.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, pgError("query", err)
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

// CopyFrom loads rows with the COPY protocol inside the transaction.
func (t *pgTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, pgError("copy", err)
	}
	return n, nil
}

func (t *pgTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
