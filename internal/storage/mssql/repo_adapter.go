package mssql

import (
	"context"

	"mergeflow/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

func init() {
	storage.Register(string(storage.MSSQL), func(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
		return newRepository(ctx, cfg)
	})
}
