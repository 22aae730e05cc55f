// Package migrations holds the goose migrations for the message store.
// The statements are written to run unchanged on SQLite and Postgres.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
