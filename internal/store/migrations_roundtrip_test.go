package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

// testDB opens TEST_DATABASE_URL on a freshly migrated public schema.
func testDB(t *testing.T) (*sqlx.DB, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db, dsn
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, dsn := testDB(t)
	ctx := context.Background()

	if err := RollbackMigrations(dsn); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	var tables int
	if err := db.GetContext(ctx, &tables, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name <> 'schema_migrations'
	`); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if tables != 0 {
		t.Fatalf("expected no tables after rollback, found %d", tables)
	}

	if err := ApplyMigrations(dsn); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	if err := ApplyMigrations(dsn); err != nil {
		t.Fatalf("reapplying migrations should be a no-op: %v", err)
	}
}
