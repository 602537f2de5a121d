package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"byteme/config"
	"byteme/database"
)

// SetupTestDB connects to the database described by TEST_DB_DRIVER,
// TEST_DB_HOST, TEST_DB_PORT, TEST_DB_USER, TEST_DB_PASSWORD and
// TEST_DB_NAME (default a local postgres byteme_test). Tests are skipped
// when it is not reachable.
func SetupTestDB(t *testing.T) *database.DB {
	t.Helper()

	driver := env("TEST_DB_DRIVER", database.Postgres)
	defaultPort := "5432"
	if driver == database.MySQL {
		defaultPort = "3306"
	}
	port, err := strconv.Atoi(env("TEST_DB_PORT", defaultPort))
	if err != nil {
		t.Fatalf("invalid TEST_DB_PORT: %v", err)
	}

	cfg := config.DatabaseConfig{
		Driver:          driver,
		Host:            env("TEST_DB_HOST", "localhost"),
		Port:            port,
		User:            env("TEST_DB_USER", "esduser"),
		Password:        env("TEST_DB_PASSWORD", "esduser"),
		Name:            env("TEST_DB_NAME", "byteme_test"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	return db
}

// CleanupTestDB empties the given tables and closes the connection.
func CleanupTestDB(t *testing.T, db *database.DB, tables ...string) {
	t.Helper()
	if db == nil {
		return
	}

	for _, table := range tables {
		if _, err := db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			t.Logf("failed to clean table %s: %v", table, err)
		}
	}

	db.Close()
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
