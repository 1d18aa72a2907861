package storage

import (
	"testing"
	"time"

	"github.com/curatehub/pulse/pkg/config"
)

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{
		Driver:  "bogus",
		URL:     "whatever",
		Timeout: time.Second,
	})
	if err == nil {
		t.Fatal("Expected error for unknown driver")
	}
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver:   "sqlite3",
		URL:      ":memory:",
		MaxConns: 1,
		MinConns: 1,
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var one int
	if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if one != 1 {
		t.Errorf("Expected 1, got %d", one)
	}
}
