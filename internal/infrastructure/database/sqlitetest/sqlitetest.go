// Package sqlitetest opens migrated in-memory databases for package tests.
package sqlitetest

import (
	"context"
	"testing"

	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
	_ "github.com/unitlink/unitlink-core/migrations" // registers the embedded schema
)

// Open returns an in-memory database with every migration applied.
// The database is closed when the test finishes.
func Open(t testing.TB) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}
