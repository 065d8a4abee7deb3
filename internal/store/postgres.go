// Package store provides storage backends for FunnelPipe.
//
// This file implements a PostgreSQL-backed store for contacts and the delivery log.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var postgresQueries = queries{
	selectContact:     `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`,
	selectContactLock: `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1 FOR UPDATE`,
	upsertContact: `INSERT INTO contacts (` + contactColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, language = EXCLUDED.language,
		demo_requested = EXCLUDED.demo_requested, contact_info_shared = EXCLUDED.contact_info_shared,
		message_count = EXCLUDED.message_count, last_seen = EXCLUDED.last_seen, updated_at = EXCLUDED.updated_at`,
	listContacts:      `SELECT ` + contactColumns + ` FROM contacts ORDER BY updated_at DESC, id`,
	insertLog:         `INSERT INTO log_entries (` + logColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	listLogs:          `SELECT ` + logColumns + ` FROM log_entries ORDER BY seq DESC LIMIT $1`,
	listLogsByContact: `SELECT ` + logColumns + ` FROM log_entries WHERE contact_id = $1 ORDER BY seq DESC LIMIT $2`,
	pruneLogs:         `DELETE FROM log_entries WHERE seq NOT IN (SELECT seq FROM log_entries ORDER BY seq DESC LIMIT $1)`,
	noLimit:           nil,
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	*sqlBase
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{sqlBase: &sqlBase{
		name:  "PostgresStore",
		db:    db,
		clock: cfg.Clock,
		q:     postgresQueries,
	}}, nil
}
