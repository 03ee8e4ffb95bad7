// Package migrations contains the embedded SQL schema shared by the
// PostgreSQL and SQLite engines.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
