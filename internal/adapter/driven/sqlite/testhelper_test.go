package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// A name derived from t.Name() isolates parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// WAL mode does not apply to in-memory databases.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)

	db, err := open(context.Background(), dsn, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}
