package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cadegiameos/Reaper-Gift-Wheel/db"
	"github.com/cadegiameos/Reaper-Gift-Wheel/redisstore"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	for _, tbl := range []string{"kv", "kv_set_members", "kv_list_items"} {
		if _, err := database.ExecContext(ctx, "TRUNCATE "+tbl); err != nil {
			database.Close()
			t.Fatalf("failed to truncate %s: %v", tbl, err)
		}
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SetupTestRedis returns a redisstore.Store on TEST_REDIS_ADDR, flushing the
// selected database first. It skips the test if the variable is not set.
func SetupTestRedis(t *testing.T) *redisstore.Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	s := redisstore.New(redisstore.Options{Addr: addr, DB: 15})
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("failed to reach redis: %v", err)
	}
	if err := s.FlushForTest(context.Background()); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
