//go:build !(sqlite_vec && cgo)

package memory

import (
	_ "modernc.org/sqlite"
)

// Pure-Go driver; similarity runs in-process over decoded embeddings.
const driverName = "sqlite"
