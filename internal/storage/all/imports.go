// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. After importing it the following
// dialects are available at runtime:
//
//   - "postgres" (mergeflow/internal/storage/postgres)
//   - "mysql"    (mergeflow/internal/storage/mysql)
//   - "mssql"    (mergeflow/internal/storage/mssql)
//   - "oracle"   (mergeflow/internal/storage/oracle)
//   - "sqlite"   (mergeflow/internal/storage/sqlite)
//   - "db2"      (mergeflow/internal/storage/db2, only with -tags db2)
//
// Typical usage (in cmd/mergeflow or a similar wiring layer):
//
//	import (
//	    _ "mergeflow/internal/storage/all"
//
//	    "mergeflow/internal/storage"
//	)
//
//	drv, err := storage.New(ctx, storage.Config{Kind: "postgres", DSN: dsn})
//
// Binaries that need only a subset of backends can import the backend
// packages directly instead.
package all

import (
	_ "mergeflow/internal/storage/db2"
	_ "mergeflow/internal/storage/mssql"
	_ "mergeflow/internal/storage/mysql"
	_ "mergeflow/internal/storage/oracle"
	_ "mergeflow/internal/storage/postgres"
	_ "mergeflow/internal/storage/sqlite"
)
