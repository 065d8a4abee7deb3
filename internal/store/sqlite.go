// Package store provides storage backends for FunnelPipe.
//
// This file implements an SQLite-backed store for contacts and the delivery log.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var sqliteQueries = queries{
	selectContact:     `SELECT ` + contactColumns + ` FROM contacts WHERE id = ?`,
	selectContactLock: `SELECT ` + contactColumns + ` FROM contacts WHERE id = ?`,
	upsertContact: `INSERT INTO contacts (` + contactColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone, language = excluded.language,
		demo_requested = excluded.demo_requested, contact_info_shared = excluded.contact_info_shared,
		message_count = excluded.message_count, last_seen = excluded.last_seen, updated_at = excluded.updated_at`,
	listContacts:      `SELECT ` + contactColumns + ` FROM contacts ORDER BY updated_at DESC, id`,
	insertLog:         `INSERT INTO log_entries (` + logColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	listLogs:          `SELECT ` + logColumns + ` FROM log_entries ORDER BY seq DESC LIMIT ?`,
	listLogsByContact: `SELECT ` + logColumns + ` FROM log_entries WHERE contact_id = ? ORDER BY seq DESC LIMIT ?`,
	pruneLogs:         `DELETE FROM log_entries WHERE seq NOT IN (SELECT seq FROM log_entries ORDER BY seq DESC LIMIT ?)`,
	noLimit:           -1,
}

// SQLiteStore is a Store backed by an SQLite database file.
type SQLiteStore struct {
	*sqlBase
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{sqlBase: &sqlBase{
		name:  "SQLiteStore",
		db:    db,
		clock: cfg.Clock,
		q:     sqliteQueries,
	}}, nil
}
