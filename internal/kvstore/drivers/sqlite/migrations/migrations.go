package migrations

import "embed"

// Migrations holds the schema migrations, applied in order by golang-migrate.
//
//go:embed *.sql
var Migrations embed.FS
