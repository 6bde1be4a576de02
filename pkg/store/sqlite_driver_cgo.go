//go:build sqlite_cgo

package store

import (
	// Cgo SQLite driver, faster for large databases.
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
