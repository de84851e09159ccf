package migrations

import "embed"

// FS contains embedded SQLite migrations for the workshop catalog.
//
//go:embed *.sql
var FS embed.FS
