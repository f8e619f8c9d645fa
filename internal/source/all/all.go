// Package all links every built-in source kind together with the storage
// drivers they use. Import it for side effects only.
package all

import (
	_ "mergeflow/internal/source/api"
	_ "mergeflow/internal/source/database"
	_ "mergeflow/internal/source/email"
	_ "mergeflow/internal/source/file"
	_ "mergeflow/internal/storage/all"
)
