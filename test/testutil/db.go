package testutil

import (
	"database/sql"
	"os"
	"strconv"
	"testing"

	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/db"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// OpenTestDB connects to the postgres (with pgvector) named by TEST_DB_* variables.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	port, err := strconv.Atoi(envOr("TEST_DB_PORT", "5432"))
	if err != nil {
		t.Fatalf("invalid TEST_DB_PORT: %v", err)
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     envOr("TEST_DB_USER", "docchat"),
		Password: envOr("TEST_DB_PASSWORD", "docchat_pass"),
		DBName:   envOr("TEST_DB_NAME", "docchat_test"),
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}
