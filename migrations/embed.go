// Package migrations embeds the SQL schema for the audit trail.
package migrations

import "embed"

// Files holds the numbered migration files.
//
//go:embed *.sql
var Files embed.FS
