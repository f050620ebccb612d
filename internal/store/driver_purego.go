//go:build !cgo_sqlite

package store

// Pure Go SQLite, no C compiler required. This is the default build.
//
//	go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver used by Open.
	DriverName = "sqlite"

	// BuildMode describes the current build configuration.
	BuildMode = "purego"
)
