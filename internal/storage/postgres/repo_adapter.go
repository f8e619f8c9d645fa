package postgres

import (
	"context"

	"mergeflow/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = func(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
	return NewRepository(ctx, cfg)
}

func init() {
	storage.Register(string(storage.Postgres), func(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
		return newRepository(ctx, cfg)
	})
}
