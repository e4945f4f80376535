package testutil

import (
	"database/sql"
	"os"
	"strconv"
	"testing"

	"github.com/xxxsen/mofadvisor/internal/config"
	"github.com/xxxsen/mofadvisor/internal/db"
)

// OpenTestDB connects to the postgres named by TEST_DB_* and applies migrations.
// The test is skipped when TEST_DB_HOST is unset.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	port := 5432
	if v, err := strconv.Atoi(os.Getenv("TEST_DB_PORT")); err == nil && v > 0 {
		port = v
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     envOr("TEST_DB_USER", "mofadvisor"),
		Password: envOr("TEST_DB_PASSWORD", "mofadvisor_pass"),
		DBName:   envOr("TEST_DB_NAME", "mofadvisor_test"),
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_, _ = conn.Exec("TRUNCATE index_entries, indexed_documents, embedding_cache")
		_ = conn.Close()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
