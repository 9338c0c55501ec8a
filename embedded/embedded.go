package embedded

import _ "embed"

// Database migrations.

// DBMigration1x0 is the initial database setup with the key-value store and
// users.
//
//go:embed sql/1x0.sql
var DBMigration1x0 string

// DBMigration1x1 adds match events and eliminations.
//
//go:embed sql/1x1.sql
var DBMigration1x1 string
