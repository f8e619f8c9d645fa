package merge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/ddl"
	"mergeflow/internal/fingerprint"
	"mergeflow/internal/spill"
	"mergeflow/internal/storage"
	"mergeflow/internal/storage/db2"
	"mergeflow/internal/storage/sqlite"
)

const ordersDDL = `CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	amount INTEGER NOT NULL,
	data_fingerprint VARCHAR(32),
	extract_timestamp BIGINT
)`

func target(t *testing.T, stmts ...string) storage.Driver {
	t.Helper()
	ctx := context.Background()
	d, err := sqlite.Open(ctx, storage.Config{DSN: filepath.Join(t.TempDir(), "target.db")})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	exec(t, d, stmts...)
	return d
}

func exec(t *testing.T, d storage.Driver, stmts ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := d.Begin(ctx)
	require.NoError(t, err)
	for _, q := range stmts {
		_, err := tx.Exec(ctx, q)
		require.NoError(t, err, q)
	}
	require.NoError(t, tx.Commit(ctx))
}

var bigint = ddl.ColumnType{Name: "BIGINT"}

// orders builds a batch of (id, amount) pairs.
func orders(pairs ...[2]any) *batch.Batch {
	b := &batch.Batch{Columns: []batch.Column{{Name: "id", Type: bigint}, {Name: "amount", Type: bigint}}}
	for _, p := range pairs {
		b.Rows = append(b.Rows, []any{p[0], p[1]})
	}
	return b
}

func stamped(b *batch.Batch) *batch.Batch {
	fp := fingerprint.New(fingerprint.DefaultLabels(), nil, func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	})
	return fp.Stamp(b)
}

func manifest(batches ...*batch.Batch) *batch.Manifest {
	m := &batch.Manifest{}
	for i, b := range batches {
		m.AddBatch(batch.SliceID{Index: i + 1}, b)
	}
	return m
}

func upsertDesc() Descriptor {
	return Descriptor{
		Table:   "orders",
		Key:     []string{"id"},
		Method:  config.MethodUpsert,
		Action:  storage.ConflictUpdate,
		Control: true,
		Labels:  fingerprint.DefaultLabels(),
	}
}

// contents returns the (id, amount) pairs of orders in id order.
func contents(t *testing.T, d storage.Driver) [][2]int64 {
	t.Helper()
	b, err := d.Query(context.Background(), "SELECT id, amount FROM orders ORDER BY id")
	require.NoError(t, err)
	out := make([][2]int64, 0, b.Len())
	for _, r := range b.Rows {
		out = append(out, [2]int64{storage.AsInt(r[0]), storage.AsInt(r[1])})
	}
	return out
}

func load(t *testing.T, d storage.Driver, desc Descriptor, m *batch.Manifest) Metrics {
	t.Helper()
	e := New(d, desc, nil)
	require.NoError(t, e.Load(context.Background(), m))
	return e.Metrics()
}

func TestUpsertInsertsThenUpdatesChangedRows(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL)

	got := load(t, d, upsertDesc(), manifest(stamped(orders([2]any{int64(1), int64(10)}, [2]any{int64(2), int64(20)}))))
	assert.Equal(t, Metrics{Total: 2, Processed: 2, Inserted: 2}, got)

	second := manifest(stamped(orders([2]any{int64(1), int64(15)}, [2]any{int64(2), int64(20)}, [2]any{int64(3), int64(30)})))
	got = load(t, d, upsertDesc(), second)
	assert.Equal(t, int64(1), got.Inserted)
	assert.Equal(t, int64(1), got.Updated)
	assert.Equal(t, [][2]int64{{1, 15}, {2, 20}, {3, 30}}, contents(t, d))

	// Loading the same data again changes nothing.
	again := manifest(stamped(orders([2]any{int64(1), int64(15)}, [2]any{int64(2), int64(20)}, [2]any{int64(3), int64(30)})))
	got = load(t, d, upsertDesc(), again)
	assert.Equal(t, Metrics{Total: 3, Processed: 3}, got)
}

func TestUpsertIgnoreKeepsExistingRows(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL, `INSERT INTO orders (id, amount) VALUES (1, 10)`)
	desc := upsertDesc()
	desc.Action = storage.ConflictIgnore

	got := load(t, d, desc, manifest(stamped(orders([2]any{int64(1), int64(99)}, [2]any{int64(2), int64(20)}))))
	assert.Equal(t, int64(1), got.Inserted)
	assert.Zero(t, got.Updated)
	assert.Equal(t, [][2]int64{{1, 10}, {2, 20}}, contents(t, d))
}

func TestUpsertDuplicateKeysInBatchLastWins(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL)

	got := load(t, d, upsertDesc(), manifest(stamped(orders([2]any{int64(1), int64(10)}, [2]any{int64(1), int64(11)}))))
	assert.Equal(t, int64(1), got.Inserted)
	assert.Equal(t, [][2]int64{{1, 11}}, contents(t, d))
}

func TestStagedSyncSkipsUnchangedRows(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL, `CREATE TABLE orders_stg (id INTEGER, amount INTEGER, data_fingerprint VARCHAR(32), extract_timestamp BIGINT)`)
	desc := upsertDesc()
	desc.StagingTable = "orders_stg"
	require.True(t, desc.Staged())

	got := load(t, d, desc, manifest(stamped(orders([2]any{int64(1), int64(10)}, [2]any{int64(2), int64(20)}))))
	assert.Equal(t, int64(2), got.Inserted)
	assert.Zero(t, got.Updated)

	next := func() *batch.Manifest {
		return manifest(stamped(orders([2]any{int64(1), int64(15)}, [2]any{int64(2), int64(20)}, [2]any{int64(3), int64(30)})))
	}
	got = load(t, d, desc, next())
	assert.Equal(t, int64(1), got.Inserted)
	assert.Equal(t, int64(1), got.Updated)
	assert.Equal(t, [][2]int64{{1, 15}, {2, 20}, {3, 30}}, contents(t, d))

	got = load(t, d, desc, next())
	assert.Zero(t, got.Inserted)
	assert.Zero(t, got.Updated)
}

func TestStagedSyncFailureRollsBackBatch(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL, `CREATE TABLE orders_stg (id INTEGER, amount INTEGER, data_fingerprint VARCHAR(32), extract_timestamp BIGINT)`)
	desc := upsertDesc()
	desc.StagingTable = "orders_stg"

	e := New(d, desc, nil)
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, manifest(stamped(orders([2]any{int64(1), int64(10)})))))
	before := e.Metrics()

	// id 1 changes and is updated first; id 2 then violates NOT NULL.
	err := e.Load(ctx, manifest(stamped(orders([2]any{int64(1), int64(15)}, [2]any{int64(2), nil}))))
	require.ErrorIs(t, err, apperr.ErrMerge)
	assert.Contains(t, err.Error(), "staged insert")
	assert.Equal(t, [][2]int64{{1, 10}}, contents(t, d))
	after := e.Metrics()
	assert.Equal(t, before.Inserted, after.Inserted)
	assert.Equal(t, before.Updated, after.Updated)
	assert.Equal(t, before.Deleted, after.Deleted)
}

func TestStagedSyncKeyOnlyTarget(t *testing.T) {
	t.Parallel()
	d := target(t, `CREATE TABLE tags (id INTEGER PRIMARY KEY)`, `CREATE TABLE tags_stg (id INTEGER)`)
	desc := Descriptor{
		Table:        "tags",
		Key:          []string{"id"},
		Method:       config.MethodUpsert,
		Action:       storage.ConflictUpdate,
		StagingTable: "tags_stg",
	}
	require.True(t, desc.Staged())
	ids := func(v ...int64) *batch.Manifest {
		b := &batch.Batch{Columns: []batch.Column{{Name: "id", Type: bigint}}}
		for _, id := range v {
			b.Rows = append(b.Rows, []any{id})
		}
		return manifest(b)
	}

	got := load(t, d, desc, ids(1, 2))
	assert.Equal(t, int64(2), got.Inserted)

	got = load(t, d, desc, ids(2, 3))
	assert.Equal(t, int64(1), got.Inserted)
	assert.Zero(t, got.Updated)
}

func TestFullCopyReplacesTarget(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL, `INSERT INTO orders (id, amount) VALUES (7, 70), (8, 80), (9, 90)`)
	desc := upsertDesc()
	desc.Method = config.MethodFullCopy

	got := load(t, d, desc, manifest(
		stamped(orders([2]any{int64(1), int64(10)})),
		stamped(orders([2]any{int64(2), int64(20)})),
	))
	assert.Equal(t, Metrics{Total: 2, Processed: 2, Inserted: 2, Deleted: 3}, got)
	assert.Equal(t, [][2]int64{{1, 10}, {2, 20}}, contents(t, d))
}

func TestFullCopyEmptyManifestTruncates(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL, `INSERT INTO orders (id, amount) VALUES (7, 70)`)
	desc := upsertDesc()
	desc.Method = config.MethodFullCopy

	got := load(t, d, desc, &batch.Manifest{})
	assert.Equal(t, int64(1), got.Deleted)
	assert.Empty(t, contents(t, d))
}

/*
TestFullCopyFailureRollsBackTruncate loads a batch that violates NOT NULL:
the truncate shares the failing transaction, so the old rows survive.
*/
func TestFullCopyFailureRollsBackTruncate(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL, `INSERT INTO orders (id, amount) VALUES (7, 70)`)
	desc := upsertDesc()
	desc.Method = config.MethodFullCopy

	e := New(d, desc, nil)
	err := e.Load(context.Background(), manifest(orders([2]any{int64(1), nil})))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrMerge), "err = %v", err)
	assert.Zero(t, e.Metrics().Deleted)
	assert.Equal(t, [][2]int64{{7, 70}}, contents(t, d))
}

func TestFailedBatchKeepsEarlierBatches(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL)

	e := New(d, upsertDesc(), nil)
	err := e.Load(context.Background(), manifest(
		stamped(orders([2]any{int64(1), int64(10)})),
		stamped(orders([2]any{int64(2), int64(20)}, [2]any{int64(3), nil})),
	))
	require.ErrorIs(t, err, apperr.ErrMerge)
	assert.Equal(t, int64(1), e.Metrics().Inserted)
	assert.Equal(t, [][2]int64{{1, 10}}, contents(t, d))
}

func TestBulkInsertLoadsSlicesInOrder(t *testing.T) {
	t.Parallel()
	d := target(t, `CREATE TABLE orders (seq INTEGER PRIMARY KEY AUTOINCREMENT, id INTEGER, amount INTEGER)`)
	desc := Descriptor{Table: "orders", Method: config.MethodBulkInsert}

	m := &batch.Manifest{}
	m.AddBatch(batch.SliceID{Index: 3}, orders([2]any{int64(3), int64(30)}))
	m.AddBatch(batch.SliceID{Index: 1}, orders([2]any{int64(1), int64(10)}))
	m.AddBatch(batch.SliceID{Index: 2}, orders([2]any{int64(2), int64(20)}, [2]any{int64(2), int64(21)}))

	got := load(t, d, desc, m)
	assert.Equal(t, Metrics{Total: 4, Processed: 4, Inserted: 4}, got)

	b, err := d.Query(context.Background(), "SELECT id FROM orders ORDER BY seq")
	require.NoError(t, err)
	var ids []int64
	for _, r := range b.Rows {
		ids = append(ids, storage.AsInt(r[0]))
	}
	assert.Equal(t, []int64{1, 2, 2, 3}, ids)
}

func TestLoadReadsSpilledSlices(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL)
	dir := spill.Dir{Path: t.TempDir(), Pipeline: "orders"}
	m := &batch.Manifest{}
	require.NoError(t, dir.Spill(m, batch.SliceID{Index: 2}, stamped(orders([2]any{int64(2), int64(20)}))))
	require.NoError(t, dir.Spill(m, batch.SliceID{Index: 1}, stamped(orders([2]any{int64(1), int64(10)}))))

	got := load(t, d, upsertDesc(), m)
	assert.Equal(t, int64(2), got.Inserted)
	assert.Equal(t, [][2]int64{{1, 10}, {2, 20}}, contents(t, d))
}

func TestUpsertKeyFallsBackToPrimaryKey(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL)
	desc := upsertDesc()
	desc.Key = nil

	e := New(d, desc, nil)
	require.NoError(t, e.Load(context.Background(), manifest(stamped(orders([2]any{int64(1), int64(10)})))))
	assert.Equal(t, []string{"id"}, e.Descriptor().Key)
	assert.Equal(t, int64(1), e.Metrics().Inserted)
}

func TestUpsertWithoutAnyKeyIsConfigError(t *testing.T) {
	t.Parallel()
	d := target(t, `CREATE TABLE orders (id INTEGER, amount INTEGER)`)
	desc := upsertDesc()
	desc.Key = nil

	err := New(d, desc, nil).Load(context.Background(), manifest(orders([2]any{int64(1), int64(10)})))
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestUpsertKeyMissingFromBatch(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL)
	desc := upsertDesc()
	desc.Key = []string{"order_no"}

	err := New(d, desc, nil).Load(context.Background(), manifest(orders([2]any{int64(1), int64(10)})))
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestColumnsOutsideTargetAreSkipped(t *testing.T) {
	t.Parallel()
	d := target(t, ordersDDL)
	def, err := storage.Describe(context.Background(), d, "", "orders")
	require.NoError(t, err)
	desc := upsertDesc().WithColumns(def.Columns)

	b := stamped(orders([2]any{int64(1), int64(10)}))
	b.SetColumn("comment", ddl.ColumnType{Name: "VARCHAR"}, func([]any) any { return "n/a" })

	got := load(t, d, desc, manifest(b))
	assert.Equal(t, int64(1), got.Inserted)
	assert.Equal(t, [][2]int64{{1, 10}}, contents(t, d))
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	cases := map[string]storage.ConflictAction{
		"":           storage.ConflictUpdate,
		"update":     storage.ConflictUpdate,
		"whatever":   storage.ConflictUpdate,
		"IGNORE":     storage.ConflictIgnore,
		" nothing ":  storage.ConflictIgnore,
		"do nothing": storage.ConflictIgnore,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseAction(in), in)
	}
}

func TestNewDescriptor(t *testing.T) {
	t.Parallel()
	var p config.Pipeline
	p.ControlColumns = true
	p.Target.Schema = "sales"
	p.Target.Table = "orders"
	p.Target.ConflictKey = config.StringList{"id"}
	p.Target.StagingTable = " orders_stg "
	p.ControlColumnsNames.Fingerprint = "row_md5"

	d := NewDescriptor(p)
	assert.Equal(t, "sales.orders", d.FQN())
	assert.Equal(t, "sales.orders_stg", d.StagingFQN())
	assert.Equal(t, config.MethodUpsert, d.Method)
	assert.True(t, d.Staged())
	assert.Equal(t, "row_md5", d.Labels.Fingerprint)
	assert.Equal(t, fingerprint.DefaultTimestampColumn, d.Labels.Timestamp)

	p.Target.InsertionMethod = "bulk_insert"
	assert.False(t, NewDescriptor(p).Staged())
}

func TestMetricsMap(t *testing.T) {
	m := Metrics{Total: 5, Processed: 5, Inserted: 3, Updated: 1, Deleted: 2}
	assert.Equal(t, map[string]int64{
		"total_rows": 5, "processed_rows": 5, "inserted_rows": 3, "updated_rows": 1, "deleted_rows": 2,
	}, m.Map())
}

// recorder is a storage.Driver that logs the statements it is given.
type recorder struct {
	dialect storage.Dialect
	stmts   []string
}

func (r *recorder) Dialect() storage.Dialect { return r.dialect }
func (r *recorder) Ping(context.Context) error { return nil }
func (r *recorder) Close() error { return nil }
func (r *recorder) Begin(context.Context) (storage.Tx, error) {
	r.stmts = append(r.stmts, "BEGIN")
	return r, nil
}
func (r *recorder) Query(context.Context, string, ...any) (*batch.Batch, error) {
	return &batch.Batch{}, nil
}
func (r *recorder) Stream(context.Context, string, int, func(*batch.Batch) error) error { return nil }
func (r *recorder) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	r.stmts = append(r.stmts, sql)
	return 1, nil
}
func (r *recorder) QueryInt(_ context.Context, sql string, _ ...any) (int64, error) {
	r.stmts = append(r.stmts, sql)
	return 3, nil
}
func (r *recorder) Commit(context.Context) error {
	r.stmts = append(r.stmts, "COMMIT")
	return nil
}
func (r *recorder) Rollback(context.Context) error {
	r.stmts = append(r.stmts, "ROLLBACK")
	return nil
}

func TestFullCopyOnDB2EmptiesInsideBatchTransaction(t *testing.T) {
	t.Parallel()
	r := &recorder{dialect: db2.NewDialect()}
	e := New(r, Descriptor{Table: "orders", Method: config.MethodFullCopy}, nil)

	require.NoError(t, e.Load(context.Background(), manifest(orders([2]any{int64(1), int64(10)}))))
	assert.Equal(t, []string{
		"BEGIN",
		"SELECT COUNT(*) FROM orders",
		"DELETE FROM orders",
		"INSERT INTO orders (id, amount) VALUES (?, ?)",
		"COMMIT",
	}, r.stmts)
	assert.Equal(t, int64(3), e.Metrics().Deleted)
	assert.Equal(t, int64(1), e.Metrics().Inserted)
}
