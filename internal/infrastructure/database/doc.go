// Package database opens the SQLite file that backs the relay event
// journal and applies its schema migrations.
//
// The connection is limited to a single open connection: SQLite allows one
// writer, and the journal has exactly one writer goroutine. WAL mode lets
// the HTTP API read history while the writer appends.
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_description.up.sql
// with an optional matching .down.sql. They are embedded by the top-level
// migrations package, which assigns MigrationsFS at init.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
