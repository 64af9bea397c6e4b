//go:build sqlite_vec && cgo

package memory

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// cgo fast path: mattn/go-sqlite3 with the sqlite-vec extension loaded, so
// embedding blobs stay queryable with vec functions from the sqlite shell.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}
