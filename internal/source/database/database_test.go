package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/fingerprint"
	"mergeflow/internal/source"
	"mergeflow/internal/spill"
	"mergeflow/internal/storage"
	"mergeflow/internal/storage/sqlite"
	"mergeflow/internal/template"
)

func seeded(t *testing.T) storage.Driver {
	t.Helper()
	ctx := context.Background()
	d, err := sqlite.Open(ctx, storage.Config{DSN: filepath.Join(t.TempDir(), "src.db")})
	require.NoError(t, err)

	tx, err := d.Begin(ctx)
	require.NoError(t, err)
	for _, q := range []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount INTEGER, day VARCHAR(10))`,
		`INSERT INTO orders VALUES (1, 10, '2024-01-01'), (2, 20, '2024-01-01'), (3, 30, '2024-01-02')`,
		`CREATE TABLE days (day VARCHAR(10))`,
		`INSERT INTO days VALUES ('2024-01-01'), ('2024-01-03'), ('2024-01-02')`,
	} {
		_, err := tx.Exec(ctx, q)
		require.NoError(t, err, q)
	}
	require.NoError(t, tx.Commit(ctx))
	return d
}

func ids(m *batch.Manifest) []batch.SliceID {
	var out []batch.SliceID
	for _, e := range m.Entries() {
		out = append(out, e.ID)
	}
	return out
}

func fixedStamp() *fingerprint.Fingerprinter {
	return fingerprint.New(fingerprint.DefaultLabels(), nil, func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	})
}

func TestExtractDirectPaged(t *testing.T) {
	cfg := config.Source{Queries: config.Queries{Extract: "SELECT id, amount FROM orders ORDER BY id"}}
	cfg.ChunkSize = 2
	s := NewWithDriver(seeded(t), cfg, source.Env{Pipeline: "orders", Stamp: fixedStamp()})
	defer s.Close()

	m, err := s.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []batch.SliceID{{Index: 1}, {Index: 2}}, ids(m))
	assert.Equal(t, 3, m.Rows())

	first := m.Entries()[0].Batch
	assert.Equal(t, []string{"id", "amount", "data_fingerprint", "extract_timestamp"}, first.Names())
	assert.Equal(t, "20240501120000", first.Rows[0][3])
	assert.Len(t, first.Rows[0][2], 32)
}

func TestExtractUnchunkedIsSingleFullSlice(t *testing.T) {
	cfg := config.Source{Queries: config.Queries{Extract: "SELECT * FROM orders"}}
	s := NewWithDriver(seeded(t), cfg, source.Env{Pipeline: "orders"})
	defer s.Close()

	m, err := s.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []batch.SliceID{batch.Full}, ids(m))
	assert.Equal(t, 3, m.Rows())
}

func TestExtractIterativeSkipsEmptyPages(t *testing.T) {
	cfg := config.Source{Queries: config.Queries{
		Iterate: "SELECT day FROM days ORDER BY rowid",
		Extract: "SELECT id, amount FROM orders WHERE day = '{day}' ORDER BY id",
	}}
	s := NewWithDriver(seeded(t), cfg, source.Env{Pipeline: "orders"})
	defer s.Close()

	m, err := s.Extract(context.Background())
	require.NoError(t, err)
	// 2024-01-03 has no orders, so iteration 2 contributes nothing.
	assert.Equal(t, []batch.SliceID{{Index: 1, Sub: 1}, {Index: 3, Sub: 1}}, ids(m))
	assert.Equal(t, 2, m.Entries()[0].Rows)
	assert.Equal(t, 1, m.Entries()[1].Rows)
}

func TestExtractParamsAndDynamicParams(t *testing.T) {
	cfg := config.Source{Queries: config.Queries{
		Extract:       "SELECT id FROM orders WHERE day = '{day}' AND id > {max_id}",
		ExtractParams: map[string]string{"day": "2024-01-01", "max_id": "0"},
	}}
	s := NewWithDriver(seeded(t), cfg, source.Env{Pipeline: "orders"})
	defer s.Close()
	s.SetDynamicParams(template.Params{"max_id": "1"})

	m, err := s.Extract(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	assert.Equal(t, int64(2), storage.AsInt(m.Entries()[0].Batch.Rows[0][0]))
}

func TestExtractMissingParamIsTemplateError(t *testing.T) {
	cfg := config.Source{Queries: config.Queries{Extract: "SELECT * FROM orders WHERE id > {since}"}}
	s := NewWithDriver(seeded(t), cfg, source.Env{Pipeline: "orders"})
	defer s.Close()

	_, err := s.Extract(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTemplate)
}

func TestExtractQueryFailureIsConnectionError(t *testing.T) {
	cfg := config.Source{Queries: config.Queries{Extract: "SELECT * FROM missing_table"}}
	s := NewWithDriver(seeded(t), cfg, source.Env{Pipeline: "orders"})
	defer s.Close()

	_, err := s.Extract(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConnection)
}

func TestExtractSpillsToParquet(t *testing.T) {
	dir := &spill.Dir{Path: t.TempDir(), Pipeline: "orders"}
	cfg := config.Source{Queries: config.Queries{Extract: "SELECT id, amount FROM orders ORDER BY id"}}
	cfg.ChunkSize = 2
	s := NewWithDriver(seeded(t), cfg, source.Env{Pipeline: "orders", Spill: dir, Stamp: fixedStamp()})
	defer s.Close()

	m, err := s.Extract(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir.Path, "orders_slice_00001.parquet"),
		filepath.Join(dir.Path, "orders_slice_00002.parquet"),
	}, m.Paths())

	b, err := spill.Read(m.Paths()[1])
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, "data_fingerprint", b.Columns[2].Name)
}

func TestInspectTable(t *testing.T) {
	cfg := config.Source{Queries: config.Queries{Extract: "SELECT * FROM orders"}}
	cfg.Table = "orders"
	s := NewWithDriver(seeded(t), cfg, source.Env{})
	defer s.Close()

	def, err := s.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "amount", "day"}, def.ColumnNames())
	assert.Equal(t, []string{"id"}, def.PrimaryKey())
	col, ok := def.Column("day")
	require.True(t, ok)
	assert.Equal(t, "VARCHAR", col.Type.Name)
	assert.Equal(t, 10, col.Type.Size)
}

func TestNewRequiresExtract(t *testing.T) {
	_, err := New(context.Background(), config.Source{}, source.Env{})
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestRegistryBuildsDatabaseSource(t *testing.T) {
	d := seeded(t)
	orig := openDriver
	openDriver = func(context.Context, storage.Config) (storage.Driver, error) { return d, nil }
	t.Cleanup(func() { openDriver = orig })

	cfg := config.Source{Queries: config.Queries{Extract: "SELECT 1"}}
	cfg.Type = "database"
	s, err := source.New(context.Background(), cfg, source.Env{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
