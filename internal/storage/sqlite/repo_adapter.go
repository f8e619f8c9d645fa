package sqlite

import (
	"context"
	"strings"

	"mergeflow/internal/storage"
	"mergeflow/internal/storage/sqldb"

	_ "modernc.org/sqlite" // registers database/sql driver "sqlite"
)

// newRepository is a test hook that points to Open by default. Tests may
// replace this variable to avoid touching the filesystem.
var newRepository = Open

// defaultPragmas make concurrent readers and the batch writer coexist on one
// database file: a reader streaming a source page must not block the commit
// of the target batch.
var defaultPragmas = []string{"_pragma=busy_timeout(10000)", "_pragma=journal_mode(WAL)"}

// Open opens the SQLite database named by dsn.
func Open(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
	return sqldb.Open(ctx, "sqlite", withPragmas(cfg.DSN), NewDialect(), cfg.MaxOpenConns)
}

// withPragmas appends defaultPragmas unless the DSN already sets pragmas or
// names an in-memory database.
func withPragmas(dsn string) string {
	if strings.TrimSpace(dsn) == "" || strings.Contains(dsn, "_pragma=") || strings.Contains(dsn, ":memory:") ||
		strings.Contains(dsn, "mode=memory") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(defaultPragmas, "&")
}

func init() {
	storage.Register(string(storage.SQLite), func(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
		return newRepository(ctx, cfg)
	})
}
