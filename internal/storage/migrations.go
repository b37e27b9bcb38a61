package storage

import "embed"

// Migrations holds the embedded schema migrations, consumed by cmd/migrate
// through the iofs source driver.
//
//go:embed migrations/*.sql
var Migrations embed.FS
