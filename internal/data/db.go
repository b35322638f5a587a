// Package data provides the SQLite connection used by the persistent result
// cache and the request metrics store. It uses modernc.org/sqlite for pure-Go, CGO-free database access.
package data

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "modeflow.db"

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store owns the SQLite connection.
type Store struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithFileName overrides DefaultFileName.
func WithFileName(name string) Option {
	return func(s *Store) { s.path = name }
}

// NewDB creates a database connection under dataDir and applies the
// embedded migrations. The dataDir should point to a LOCAL directory;
// network paths are rejected to prevent SQLite corruption.
func NewDB(dataDir string, opts ...Option) (*Store, error) {
	store := &Store{path: DefaultFileName, log: logging.Component("data")}
	for _, opt := range opts {
		opt(store)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := validateLocalPath(dataDir); err != nil {
		return nil, fmt.Errorf("validate data directory: %w", err)
	}
	store.path = filepath.Join(dataDir, store.path)

	db, err := sql.Open("sqlite", store.path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	store.db = db

	if err := store.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store.log.Debug().Str("path", store.path).Msg("Database ready")
	return store, nil
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -16000", // 16MB (negative = KB)
		"PRAGMA temp_store = MEMORY",
		"PRAGMA auto_vacuum = INCREMENTAL",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Migrate runs every embedded migration in file-name order.
// This is idempotent - safe to call multiple times.
func (s *Store) Migrate() error {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		schema, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := s.runMigration(string(schema)); err != nil {
			return fmt.Errorf("migration %s: %w", strings.TrimSuffix(filepath.Base(name), ".sql"), err)
		}
	}
	return nil
}

func (s *Store) runMigration(schema string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range splitSQL(schema) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute statement %d: %w\nSQL: %s", i+1, err, stmt)
			}
		}
		return nil
	})
}

// Health checks if the database connection is alive and responsive.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("health check returned unexpected value: %d", result)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// validateLocalPath ensures the path is on a local filesystem.
// Network paths (SMB, NFS, etc.) can cause SQLite corruption.
func validateLocalPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	networkPrefixes := []string{
		"//",    // UNC paths (Windows)
		`\\`,    // UNC paths (Windows alternative)
		"/net/", // macOS network mounts
	}
	for _, prefix := range networkPrefixes {
		if strings.HasPrefix(absPath, prefix) {
			return fmt.Errorf("network path detected: %s (SQLite requires local filesystem)", absPath)
		}
	}

	testFile := filepath.Join(path, ".modeflow-write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}

// splitSQL splits a multi-statement script into individual statements,
// keeping semicolons inside string literals and BEGIN...END blocks.
func splitSQL(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := rune(0)
	beginDepth := 0

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		upper := strings.ToUpper(trimmed)
		if !inString && strings.Contains(upper, "BEGIN") && !strings.Contains(upper, "BEGIN TRANSACTION") {
			beginDepth++
		}

		for _, ch := range line {
			switch {
			case (ch == '\'' || ch == '"') && !inString:
				inString = true
				stringChar = ch
			case ch == stringChar && inString:
				inString = false
				stringChar = 0
			}

			current.WriteRune(ch)

			if ch != ';' || inString {
				continue
			}
			stmt := strings.TrimSpace(current.String())
			if beginDepth > 0 && strings.HasSuffix(strings.ToUpper(stmt), "END;") {
				beginDepth--
			}
			if beginDepth == 0 {
				if stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
			}
		}
		current.WriteRune('\n')
	}

	if final := strings.TrimSpace(current.String()); final != "" {
		statements = append(statements, final)
	}
	return statements
}

// WithTx executes fn within a transaction. If fn returns an error the
// transaction is rolled back, otherwise it is committed.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
