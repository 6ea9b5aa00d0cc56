// Package dbmigrations exposes embedded SQL migrations for ledgersync binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into ledgersync binaries.
//
//go:embed *.sql
var Files embed.FS
