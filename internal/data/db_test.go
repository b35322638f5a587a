package data

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

// TestNewDB verifies database initialization with various scenarios.
func TestNewDB(t *testing.T) {
	t.Run("creates database in valid directory", func(t *testing.T) {
		tmpDir := t.TempDir()

		store, err := NewDB(tmpDir, WithLogger(logging.Nop()))
		if err != nil {
			t.Fatalf("NewDB failed: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(filepath.Join(tmpDir, DefaultFileName)); os.IsNotExist(err) {
			t.Error("database file not created")
		}
		if store.Path() != filepath.Join(tmpDir, DefaultFileName) {
			t.Errorf("unexpected path %q", store.Path())
		}
		if err := store.Health(context.Background()); err != nil {
			t.Errorf("health check failed: %v", err)
		}
	})

	t.Run("creates nested directory structure", func(t *testing.T) {
		nestedDir := filepath.Join(t.TempDir(), "deep", "nested", "modeflow")

		store, err := NewDB(nestedDir, WithLogger(logging.Nop()))
		if err != nil {
			t.Fatalf("NewDB with nested dir failed: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(nestedDir); os.IsNotExist(err) {
			t.Error("nested directory not created")
		}
	})

	t.Run("custom file name", func(t *testing.T) {
		tmpDir := t.TempDir()
		store, err := NewDB(tmpDir, WithLogger(logging.Nop()), WithFileName("cache.db"))
		if err != nil {
			t.Fatalf("NewDB failed: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(filepath.Join(tmpDir, "cache.db")); err != nil {
			t.Errorf("custom database file not created: %v", err)
		}
	})

	t.Run("idempotent migrations", func(t *testing.T) {
		tmpDir := t.TempDir()

		store1, err := NewDB(tmpDir, WithLogger(logging.Nop()))
		if err != nil {
			t.Fatalf("first NewDB failed: %v", err)
		}
		store1.Close()

		store2, err := NewDB(tmpDir, WithLogger(logging.Nop()))
		if err != nil {
			t.Fatalf("second NewDB failed: %v", err)
		}
		defer store2.Close()

		if err := store2.Migrate(); err != nil {
			t.Errorf("explicit re-migration failed: %v", err)
		}
	})
}

func TestStoreHealth(t *testing.T) {
	tmpDir := t.TempDir()
	closed, err := NewDB(tmpDir, WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	closed.Close()

	if err := closed.Health(context.Background()); err == nil {
		t.Error("Health() should return error for closed database")
	}
}

// TestStoreMigration verifies the result cache and metrics schema.
func TestStoreMigration(t *testing.T) {
	store := setupTestStore(t)

	objects := map[string]string{
		"result_cache":                "table",
		"idx_result_cache_accessed_at": "index",
		"idx_result_cache_created_at":  "index",
		"idx_result_cache_tier":        "index",
		"request_metrics":              "table",
		"idx_request_metrics_mode":     "index",
		"metrics_daily":                "table",
	}
	for name, kind := range objects {
		t.Run(name, func(t *testing.T) {
			var count int
			err := store.db.QueryRow(
				`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name,
			).Scan(&count)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if count != 1 {
				t.Errorf("%s %s not found", kind, name)
			}
		})
	}
}

// TestStoreTransaction verifies transaction support.
func TestStoreTransaction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	insert := `INSERT INTO result_cache (cache_key, value, tier, ttl_ns, created_at, accessed_at)
		VALUES (?, '{}', 'fast', 1, 0, 0)`

	t.Run("WithTx commits on success", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.Exec(insert, "tx-1")
			return err
		})
		if err != nil {
			t.Fatalf("WithTx failed: %v", err)
		}

		var count int
		store.db.QueryRow("SELECT COUNT(*) FROM result_cache WHERE cache_key = 'tx-1'").Scan(&count)
		if count != 1 {
			t.Error("transaction did not commit")
		}
	})

	t.Run("WithTx rolls back on error", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(insert, "tx-2"); err != nil {
				return err
			}
			return context.Canceled
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WithTx should return the callback error, got %v", err)
		}

		var count int
		store.db.QueryRow("SELECT COUNT(*) FROM result_cache WHERE cache_key = 'tx-2'").Scan(&count)
		if count != 0 {
			t.Error("transaction did not roll back")
		}
	})
}

func TestValidateLocalPath(t *testing.T) {
	if err := validateLocalPath(t.TempDir()); err != nil {
		t.Errorf("validateLocalPath rejected valid local path: %v", err)
	}
	if err := validateLocalPath("//server/share/path"); err == nil {
		t.Error("validateLocalPath accepted a UNC path")
	}
}

// TestSplitSQL verifies SQL statement splitting.
func TestSplitSQL(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want int
	}{
		{"simple statements", `
			CREATE TABLE test1 (id TEXT);
			CREATE TABLE test2 (id TEXT);
		`, 2},
		{"strings with semicolons", `INSERT INTO test VALUES ('a;b;c');`, 1},
		{"comments", `
			-- This is a comment
			CREATE TABLE test (id TEXT);
			-- Another comment
		`, 1},
		{"multi-line statement", `
			CREATE TABLE test (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL
			);
		`, 1},
		{"trigger body", `
			CREATE TRIGGER touch AFTER UPDATE ON t
			BEGIN
				UPDATE t SET n = n + 1;
			END;
			CREATE INDEX idx ON t(n);
		`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitSQL(tt.sql); len(got) != tt.want {
				t.Errorf("expected %d statements, got %d: %q", tt.want, len(got), got)
			}
		})
	}
}

// TestWALMode verifies Write-Ahead Logging is enabled.
func TestWALMode(t *testing.T) {
	store := setupTestStore(t)

	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode failed: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected WAL mode, got: %s", journalMode)
	}
}

// TestConcurrentReads verifies concurrent read capability with WAL mode.
func TestConcurrentReads(t *testing.T) {
	store := setupTestStore(t)

	store.db.Exec(`INSERT INTO result_cache (cache_key, value, ttl_ns, created_at, accessed_at)
		VALUES ('concurrent-test', 'x', 1, 0, 0)`)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			var key string
			store.db.QueryRow("SELECT cache_key FROM result_cache WHERE cache_key = 'concurrent-test'").Scan(&key)
			done <- key == "concurrent-test"
		}()
	}

	timeout := time.After(5 * time.Second)
	successCount := 0
	for i := 0; i < 10; i++ {
		select {
		case ok := <-done:
			if ok {
				successCount++
			}
		case <-timeout:
			t.Fatal("concurrent reads timed out")
		}
	}
	if successCount != 10 {
		t.Errorf("expected 10 successful reads, got %d", successCount)
	}
}

// setupTestStore creates a temporary store closed at test cleanup.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewDB(t.TempDir(), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
