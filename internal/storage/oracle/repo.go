// Package oracle implements the Oracle backend on the pure-Go
// github.com/sijms/go-ora driver.
package oracle

import (
	"context"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"

	"mergeflow/internal/storage"
	"mergeflow/internal/storage/sqldb"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// NewRepository opens a pool for cfg and pings it.
func NewRepository(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
	return sqldb.Open(ctx, "oracle", dsn(cfg), NewDialect(), cfg.MaxOpenConns)
}

// dsn returns cfg.DSN, or an oracle:// URL built from the discrete fields.
// Database names the service.
func dsn(cfg storage.Config) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 1521
	}
	return go_ora.BuildUrl(cfg.Host, port, cfg.Database, cfg.User, cfg.Password, cfg.Options)
}

func init() {
	storage.Register(string(storage.Oracle), func(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
		return newRepository(ctx, cfg)
	})
}
