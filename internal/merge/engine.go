package merge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/logging"
	"mergeflow/internal/spill"
	"mergeflow/internal/storage"
)

// Engine loads manifests into one target table. Batches are loaded one at a
// time; each batch gets its own transaction.
type Engine struct {
	drv  storage.Driver
	desc Descriptor
	log  *slog.Logger

	metrics   Metrics
	truncated bool
	dropped   map[string]struct{}
}

// New returns an engine writing through drv. log may be nil.
func New(drv storage.Driver, desc Descriptor, log *slog.Logger) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{drv: drv, desc: desc, log: log, dropped: map[string]struct{}{}}
}

// Metrics returns the counters accumulated so far.
func (e *Engine) Metrics() Metrics { return e.metrics }

// Descriptor returns the descriptor in use.
func (e *Engine) Descriptor() Descriptor { return e.desc }

// Load normalizes m and writes every entry in order. Spill files are read
// back one at a time. The first failing batch aborts the load.
func (e *Engine) Load(ctx context.Context, m *batch.Manifest) error {
	if err := e.prepare(ctx); err != nil {
		return err
	}
	m.Normalize()
	e.log.Info("merge: load", "table", e.desc.FQN(), "method", e.desc.Method, "staged", e.desc.Staged(), "slices", m.Len())

	for _, entry := range m.Entries() {
		b := entry.Batch
		if entry.Spilled() {
			var err error
			if b, err = spill.Read(entry.Path); err != nil {
				return fmt.Errorf("merge: %w", err)
			}
		}
		if err := e.LoadBatch(ctx, entry.ID, b); err != nil {
			return err
		}
	}
	if e.desc.Method == config.MethodFullCopy && !e.truncated {
		if err := e.inTx(ctx, "merge.full_copy", e.truncate); err != nil {
			return err
		}
	}
	e.log.Info("merge: done", "table", e.desc.FQN(),
		"processed", e.metrics.Processed, "inserted", e.metrics.Inserted,
		"updated", e.metrics.Updated, "deleted", e.metrics.Deleted)
	return nil
}

// prepare resolves the conflict key of upserts, falling back to the target
// primary key.
func (e *Engine) prepare(ctx context.Context) error {
	if e.desc.Method != config.MethodUpsert || len(e.desc.Key) > 0 {
		return nil
	}
	def, err := storage.Describe(ctx, e.drv, e.desc.Schema, e.desc.Table)
	if err != nil {
		return apperr.Config("merge", "insertion_method UPSERT needs conflict_key: %v", err)
	}
	pk := def.PrimaryKey()
	if len(pk) == 0 {
		return apperr.Config("merge", "insertion_method UPSERT needs conflict_key; %s has no primary key", e.desc.FQN())
	}
	e.log.Info("merge: conflict key from primary key", "table", e.desc.FQN(), "key", pk)
	e.desc = e.desc.WithKey(pk)
	if len(e.desc.Columns) == 0 {
		e.desc = e.desc.WithColumns(def.Columns)
	}
	return nil
}

// LoadBatch writes one batch with the configured strategy.
func (e *Engine) LoadBatch(ctx context.Context, id batch.SliceID, b *batch.Batch) error {
	n := int64(b.Len())
	e.metrics.Total += n
	e.metrics.Processed += n
	if n == 0 && (e.desc.Method != config.MethodFullCopy || e.truncated) {
		return nil
	}
	b, err := e.project(b)
	if err != nil {
		return apperr.Merge("merge "+id.String(), err)
	}

	switch e.desc.Method {
	case config.MethodBulkInsert:
		return e.inTx(ctx, "merge.bulk_insert "+id.String(), func(ctx context.Context, tx storage.Tx, m *Metrics) error {
			return e.insert(ctx, tx, b, m)
		})
	case config.MethodFullCopy:
		return e.inTx(ctx, "merge.full_copy "+id.String(), func(ctx context.Context, tx storage.Tx, m *Metrics) error {
			if !e.truncated {
				if err := e.truncate(ctx, tx, m); err != nil {
					return err
				}
			}
			return e.insert(ctx, tx, b, m)
		})
	case config.MethodUpsert:
		if e.desc.Staged() {
			return e.inTx(ctx, "merge.staged "+id.String(), func(ctx context.Context, tx storage.Tx, m *Metrics) error {
				return e.staged(ctx, tx, b, m)
			})
		}
		return e.inTx(ctx, "merge.upsert "+id.String(), func(ctx context.Context, tx storage.Tx, m *Metrics) error {
			return e.upsert(ctx, tx, b, m)
		})
	default:
		return apperr.Config("merge", "unknown insertion_method %q", e.desc.Method)
	}
}

type txFunc func(ctx context.Context, tx storage.Tx, m *Metrics) error

// inTx runs fn in a fresh transaction and commits it. The counters fn
// collects are added to the run metrics only after the commit. Any failure
// rolls the transaction back and is reported as a merge error.
func (e *Engine) inTx(ctx context.Context, op string, fn txFunc) (err error) {
	tx, err := e.drv.Begin(ctx)
	if err != nil {
		return apperr.Connection(op, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				e.log.Warn("merge: rollback failed", "op", op, "err", rbErr)
			}
			if apperr.KindOf(err) == 0 {
				err = apperr.Merge(op, err)
			}
		}
	}()
	var delta Metrics
	if err = fn(ctx, tx, &delta); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	e.metrics.Inserted += delta.Inserted
	e.metrics.Updated += delta.Updated
	e.metrics.Deleted += delta.Deleted
	// The first committed FULL_COPY transaction is the one that truncated.
	if e.desc.Method == config.MethodFullCopy {
		e.truncated = true
	}
	return nil
}

// project keeps the batch columns the target has, when the target columns
// are known.
func (e *Engine) project(b *batch.Batch) (*batch.Batch, error) {
	if len(e.desc.Columns) == 0 {
		return b, nil
	}
	keep := make([]string, 0, len(b.Columns))
	for _, c := range b.Columns {
		if e.hasColumn(c.Name) {
			keep = append(keep, c.Name)
			continue
		}
		if _, seen := e.dropped[strings.ToLower(c.Name)]; !seen {
			e.dropped[strings.ToLower(c.Name)] = struct{}{}
			e.log.Warn("merge: column not in target, skipped", "table", e.desc.FQN(), "column", c.Name)
		}
	}
	if len(keep) == len(b.Columns) {
		return b, nil
	}
	return b.Project(keep)
}

func (e *Engine) hasColumn(name string) bool {
	for _, c := range e.desc.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func (e *Engine) truncate(ctx context.Context, tx storage.Tx, m *Metrics) error {
	d := e.drv.Dialect()
	before, err := storage.CountRows(ctx, tx, d, e.desc.FQN())
	if err != nil {
		return fmt.Errorf("count %s: %w", e.desc.FQN(), err)
	}
	if _, err := tx.Exec(ctx, d.TruncateSQL(e.desc.FQN())); err != nil {
		return fmt.Errorf("truncate %s: %w", e.desc.FQN(), err)
	}
	m.Deleted += before
	e.log.Info("merge: target truncated", "table", e.desc.FQN(), "deleted", before)
	return nil
}

// insert appends b to the target, preferring the driver's bulk path.
func (e *Engine) insert(ctx context.Context, tx storage.Tx, b *batch.Batch, m *Metrics) error {
	n, err := e.bulk(ctx, tx, e.desc.FQN(), b)
	if err != nil {
		return err
	}
	m.Inserted += n
	return nil
}

func (e *Engine) bulk(ctx context.Context, tx storage.Tx, table string, b *batch.Batch) (int64, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	cols := b.Names()
	if c, ok := tx.(storage.Copier); ok {
		n, err := c.CopyFrom(ctx, table, cols, b.Rows)
		if err != nil {
			return n, fmt.Errorf("copy into %s: %w", table, err)
		}
		return n, nil
	}
	d := e.drv.Dialect()
	n, err := storage.ExecBatched(ctx, tx, b.Rows, storage.RowsPerStatement(d, len(cols)), func(rows int) (string, error) {
		return d.InsertSQL(table, cols, rows), nil
	})
	if err != nil {
		return n, fmt.Errorf("insert into %s: %w", table, err)
	}
	return int64(b.Len()), nil
}

// upsert issues the dialect upsert. Net inserted rows come from count(*)
// before and after; the remaining affected rows are updates.
func (e *Engine) upsert(ctx context.Context, tx storage.Tx, b *batch.Batch, m *Metrics) error {
	d := e.drv.Dialect()
	keyIdx, err := e.keyIndex(b)
	if err != nil {
		return err
	}
	rows := storage.DedupByKey(b.Rows, keyIdx)
	if len(rows) < len(b.Rows) {
		e.log.Debug("merge: collapsed duplicate keys", "rows", len(b.Rows), "kept", len(rows))
	}

	u := storage.Upsert{
		Table:       e.desc.FQN(),
		Columns:     b.Names(),
		Key:         e.desc.Key,
		Action:      e.desc.Action,
		Fingerprint: e.fingerprintIn(b),
		Types:       e.types(b),
	}
	before, err := storage.CountRows(ctx, tx, d, u.Table)
	if err != nil {
		return fmt.Errorf("count %s: %w", u.Table, err)
	}
	affected, err := storage.ExecBatched(ctx, tx, rows, storage.RowsPerStatement(d, len(u.Columns)), func(n int) (string, error) {
		u.Rows = n
		return d.UpsertSQL(u)
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", u.Table, err)
	}
	after, err := storage.CountRows(ctx, tx, d, u.Table)
	if err != nil {
		return fmt.Errorf("count %s: %w", u.Table, err)
	}
	inserted := max(after-before, 0)
	updated := d.UpdatedRows(affected, inserted)
	if e.desc.Action == storage.ConflictIgnore {
		updated = 0
	}
	m.Inserted += inserted
	m.Updated += updated
	e.log.Debug("merge: upsert", "table", u.Table, "rows", len(rows), "inserted", inserted, "updated", updated)
	return nil
}

// staged runs the two-phase sync: load the staging table, update changed
// target rows from it, then insert the rows the target lacks.
func (e *Engine) staged(ctx context.Context, tx storage.Tx, b *batch.Batch, m *Metrics) error {
	d := e.drv.Dialect()
	keyIdx, err := e.keyIndex(b)
	if err != nil {
		return err
	}
	if rows := storage.DedupByKey(b.Rows, keyIdx); len(rows) < len(b.Rows) {
		b = &batch.Batch{Columns: b.Columns, Rows: rows}
	}
	st := storage.Staged{
		Target:      e.desc.FQN(),
		Staging:     e.desc.StagingFQN(),
		Columns:     b.Names(),
		Key:         e.desc.Key,
		Fingerprint: e.fingerprintIn(b),
	}
	if _, err := tx.Exec(ctx, d.TruncateSQL(st.Staging)); err != nil {
		return fmt.Errorf("truncate %s: %w", st.Staging, err)
	}
	if _, err := e.bulk(ctx, tx, st.Staging, b); err != nil {
		return err
	}
	// A key-only target has nothing to update.
	var updated int64
	if e.desc.Action != storage.ConflictIgnore && len(storage.NonKey(st.Columns, st.Key)) > 0 {
		var err error
		if updated, err = tx.Exec(ctx, d.StagedUpdateSQL(st)); err != nil {
			return fmt.Errorf("staged update %s: %w", st.Target, err)
		}
	}
	inserted, err := tx.Exec(ctx, d.StagedInsertSQL(st))
	if err != nil {
		return fmt.Errorf("staged insert %s: %w", st.Target, err)
	}
	m.Updated += updated
	m.Inserted += inserted
	e.log.Debug("merge: staged sync", "table", st.Target, "rows", b.Len(), "inserted", inserted, "updated", updated)
	return nil
}

func (e *Engine) keyIndex(b *batch.Batch) ([]int, error) {
	idx := make([]int, len(e.desc.Key))
	for i, k := range e.desc.Key {
		if idx[i] = b.Index(k); idx[i] < 0 {
			return nil, apperr.Config("merge", "conflict key column %q is not in the batch", k)
		}
	}
	return idx, nil
}

// fingerprintIn returns the fingerprint column when the batch carries it.
func (e *Engine) fingerprintIn(b *batch.Batch) string {
	fp := e.desc.fingerprintColumn()
	if fp == "" || b.Index(fp) < 0 {
		return ""
	}
	return b.Columns[b.Index(fp)].Name
}

// types maps the batch columns onto target SQL types for dialects that need
// typed VALUES sources. Unknown types leave the list empty.
func (e *Engine) types(b *batch.Batch) []string {
	if e.drv.Dialect().Kind() != storage.DB2 {
		return nil
	}
	out := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		t := c.Type
		for _, tc := range e.desc.Columns {
			if strings.EqualFold(tc.Name, c.Name) {
				t = tc.Type
				if tc.SQLType != "" {
					out[i] = tc.SQLType
				}
			}
		}
		if out[i] != "" {
			continue
		}
		sqlType, err := e.drv.Dialect().MapType(t)
		if err != nil {
			return nil
		}
		out[i] = sqlType
	}
	return out
}
