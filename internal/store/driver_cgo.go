//go:build cgo_sqlite

package store

// CGO SQLite via mattn/go-sqlite3. Faster bulk writes on large projects.
//
//	CGO_ENABLED=1 go build -tags cgo_sqlite ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver used by Open.
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)
