package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schema holds one statement per schema version. Version N has run once
// PRAGMA user_version reports N.
var schema = []string{
	`CREATE TABLE export_runs (
		id           TEXT PRIMARY KEY,
		source_type  TEXT NOT NULL,
		source       TEXT NOT NULL DEFAULT '',
		output       TEXT NOT NULL,
		strategy     TEXT NOT NULL DEFAULT '',
		columns_json TEXT NOT NULL DEFAULT '[]',
		rows_read    INTEGER NOT NULL DEFAULT 0,
		rows_written INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		started_at   DATETIME NOT NULL,
		finished_at  DATETIME NOT NULL
	)`,
	`CREATE INDEX idx_export_runs_started ON export_runs(started_at)`,
}

// DB is the export history database.
type DB struct {
	conn *sql.DB
	path string
}

// New opens the history file at path, creating it and its directory when
// needed, and brings the schema up to date.
func New(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: path}
	if err := db.upgrade(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error { return db.conn.Close() }

// Path is the file the history lives in.
func (db *DB) Path() string { return db.path }

// Version reports the applied schema version.
func (db *DB) Version() (int, error) {
	var v int
	if err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (db *DB) upgrade() error {
	current, err := db.Version()
	if err != nil {
		return err
	}
	for v := current; v < len(schema); v++ {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(schema[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}
