//go:build !sqlite_cgo

package store

import (
	// Pure-Go SQLite driver, no cgo required.
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
