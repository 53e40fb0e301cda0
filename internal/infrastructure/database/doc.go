// Package database provides SQLite database connectivity for UnitLink Core.
//
// This package manages:
//   - Database connection lifecycle (open, close, health check)
//   - Schema migrations (embedded SQL files, versioned)
//   - Transaction helpers shared by the repositories
//   - The stored timestamp format
//
// # Concurrency
//
// The pool is limited to one connection. Every transaction therefore holds
// the only writer, which serializes status updates for the same device.
// A caller blocked behind a long transaction waits on the pool until its
// context expires.
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC text (see TimeLayout) so that
// ORDER BY timestamp is chronological.
//
// # Usage
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        "./data/unitlink.db",
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
