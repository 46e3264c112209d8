// Package db ships the SQL migrations for the postgres comment backend.
package db

import "embed"

// Migrations holds migrations/*.sql, applied in file name order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
