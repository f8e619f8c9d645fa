//go:build db2

package db2

import (
	"context"

	_ "github.com/ibmdb/go_ibm_db" // registers database/sql driver "go_ibm_db"

	"mergeflow/internal/storage"
	"mergeflow/internal/storage/sqldb"
)

func init() {
	storage.Register(string(storage.DB2), func(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
		return sqldb.Open(ctx, "go_ibm_db", DSN(cfg), NewDialect(), cfg.MaxOpenConns)
	})
}
