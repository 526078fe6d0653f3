// Package store implements durable single-writer persistence for the
// coordination kernel, backed by SQLite via mattn/go-sqlite3, with an
// embedded schema and an additive migration step for older databases.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the SQLite connection used by every kernel component. All
// writes are expected to be serialized by the caller (internal/kernel holds
// the single write mutex); Store itself adds no locking beyond what
// database/sql already provides.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the kernel's SQLite database at path, running the
// embedded schema and any additive migrations. path may be ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
	}

	dsn := path + "?_foreign_keys=on"
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if path == ":memory:" {
		// A single shared connection is required for in-memory SQLite:
		// each new connection would otherwise see an empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	s := &Store{db: db, path: path}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return s, nil
}

// migrate applies the base schema, then the additive kanban-columns
// migration for databases created before those columns existed.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return s.migrateKanbanColumns()
}

// migrateKanbanColumns adds kanban-related columns to tasks if they are
// absent, so a pre-kanban database can be upgraded in place. SQLite's ALTER
// TABLE ADD COLUMN has no IF NOT EXISTS form, so existing columns are
// discovered via PRAGMA table_info first.
func (s *Store) migrateKanbanColumns() error {
	existing := make(map[string]bool)

	rows, err := s.db.Query(`PRAGMA table_info(tasks)`)
	if err != nil {
		return fmt.Errorf("failed to inspect tasks columns: %w", err)
	}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan tasks column: %w", err)
		}
		existing[name] = true
	}
	rows.Close()

	additive := []struct {
		column string
		ddl    string
	}{
		{"labels", `ALTER TABLE tasks ADD COLUMN labels TEXT NOT NULL DEFAULT '[]'`},
		{"story_points", `ALTER TABLE tasks ADD COLUMN story_points INTEGER`},
		{"due_date", `ALTER TABLE tasks ADD COLUMN due_date INTEGER`},
	}

	for _, m := range additive {
		if existing[m.column] {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("failed to add column %s: %w", m.column, err)
		}
	}

	return nil
}

// DB exposes the underlying *sql.DB for components that need direct
// query/exec access (ClaimEngine, TaskGraph, etc. each own their table).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn within a transaction, committing on success and rolling
// back on error.
func (s *Store) WithTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// NullString converts an empty string to a SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullInt64 converts a nil pointer to a SQL NULL.
func NullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
