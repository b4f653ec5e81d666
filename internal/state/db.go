// Package state provides SQLite-based persistence for Helmsman.
// One database holds session records, checkpoints, rollback history,
// parallel group records, and the error log, all readable independently
// of the orchestrator process.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with Helmsman-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// GlobalDBPath returns the path to the global Helmsman database.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "helmsman", "helmsman.db")
}

// ProjectDBPath returns the path to the project-local database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".helmsman", "state.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenProject opens the project-local database.
func OpenProject(projectRoot string) (*DB, error) {
	return Open(ProjectDBPath(projectRoot))
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Sessions},
		{2, migrationV2Checkpoints},
		{3, migrationV3Groups},
		{4, migrationV4ErrorLog},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	goal TEXT NOT NULL,
	state TEXT NOT NULL,
	phase TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME,
	repo_branch TEXT,
	repo_revision TEXT,
	repo_dirty INTEGER NOT NULL DEFAULT 0,
	stats TEXT,
	config TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
`

const migrationV2Checkpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	revision TEXT NOT NULL,
	tag_name TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	description TEXT,
	phase TEXT,
	reason TEXT NOT NULL,
	snapshot TEXT,
	labels TEXT,
	rollback_count INTEGER NOT NULL DEFAULT 0,
	used_for_rollback INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);

CREATE TABLE IF NOT EXISTS rollback_operations (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	checkpoint_description TEXT,
	target_revision TEXT,
	mode TEXT NOT NULL,
	revision_before TEXT,
	revision_after TEXT,
	validation TEXT,
	restored_snapshot TEXT,
	success INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rollbacks_session ON rollback_operations(session_id);
`

const migrationV3Groups = `
CREATE TABLE IF NOT EXISTS task_groups (
	id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	name TEXT,
	phase TEXT NOT NULL,
	task_ids TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	status TEXT NOT NULL,
	results TEXT,
	errors TEXT,
	context_refreshed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_groups_status ON task_groups(status);
`

const migrationV4ErrorLog = `
CREATE TABLE IF NOT EXISTS error_log (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	message TEXT NOT NULL,
	pattern TEXT,
	category TEXT NOT NULL,
	kind TEXT NOT NULL,
	source TEXT,
	exit_code INTEGER,
	context TEXT,
	suggestion TEXT,
	detected_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_error_log_session ON error_log(session_id);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout is RFC3339 with fixed-width fractional seconds so that string
// ordering of stored timestamps stays chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// PurgeOldSessions deletes sessions older than the specified duration,
// together with their checkpoints, rollback history, groups, and errors.
// Returns the number of sessions deleted.
func (db *DB) PurgeOldSessions(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	var count int64
	err := db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query("SELECT id FROM sessions WHERE created_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("find old sessions: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan session id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()

		for _, id := range ids {
			for _, q := range []string{
				"DELETE FROM error_log WHERE session_id = ?",
				"DELETE FROM task_groups WHERE session_id = ?",
				"DELETE FROM rollback_operations WHERE session_id = ?",
				"DELETE FROM checkpoints WHERE session_id = ?",
				"DELETE FROM sessions WHERE id = ?",
			} {
				if _, err := tx.Exec(q, id); err != nil {
					return fmt.Errorf("purge session %s: %w", id, err)
				}
			}
		}
		count = int64(len(ids))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
