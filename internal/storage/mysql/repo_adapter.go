package mysql

import (
	"context"

	"mergeflow/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// init registers the "mysql" backend with the factory.
func init() {
	storage.Register(string(storage.MySQL), func(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
		return newRepository(ctx, cfg)
	})
}
