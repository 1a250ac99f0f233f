// Package migrations embeds the Postgres schema migrations.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
