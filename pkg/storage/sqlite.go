// ABOUTME: SQLite connection setup and schema migrations
// ABOUTME: Version uniqueness and head compare-and-set are enforced by SQL constraints

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// MigrationVersion tracks the current database schema version.
const MigrationVersion = 1

// OpenSQLite opens (creating if needed) a SQLite database and applies
// migrations. Use ":memory:" for an ephemeral database.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway and ":memory:"
	// databases are per-connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := InitializeDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// InitializeDatabase creates the schema for version nodes and document heads.
func InitializeDatabase(db *sql.DB) error {
	migrationsTable := `
	CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL UNIQUE,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.Exec(migrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to check migration version: %w", err)
	}

	if currentVersion < 1 {
		if err := applyMigration1(db); err != nil {
			return fmt.Errorf("failed to apply migration 1: %w", err)
		}
	}

	return nil
}

func applyMigration1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE versions (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			version_number INTEGER NOT NULL,
			previous_id TEXT,
			created_by TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			changes TEXT NOT NULL,
			metadata TEXT NOT NULL,
			UNIQUE (document_id, version_number)
		);`,
		`CREATE TABLE heads (
			document_id TEXT PRIMARY KEY,
			current_version INTEGER NOT NULL DEFAULT 0,
			version_history TEXT NOT NULL DEFAULT '[]',
			data TEXT NOT NULL DEFAULT '{}',
			last_modified INTEGER NOT NULL,
			last_modified_by TEXT NOT NULL,
			locked_by TEXT,
			locked_at INTEGER
		);`,
		"CREATE INDEX idx_versions_document ON versions(document_id, version_number DESC);",
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", MigrationVersion); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
