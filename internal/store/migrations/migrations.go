// Package migrations embeds the SQL migration files for haggle.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
