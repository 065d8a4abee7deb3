// Package store provides storage backends for FunnelPipe.
//
// It includes an in-memory store and persistent SQLite and PostgreSQL stores
// for contacts, the delivery log and inbound message deduplication.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// DefaultLogCap is the number of log entries the in-memory store keeps.
const DefaultLogCap = 10000

// ErrDSNNotSet is returned when a persistent store is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// Store is the contact and delivery log collaborator.
type Store interface {
	// GetContact returns the contact, or nil if it does not exist.
	GetContact(id string) (*models.Contact, error)
	// UpsertContact merges patch into the contact, creating it if needed.
	UpsertContact(id string, patch models.ContactPatch) (models.Contact, error)
	ListContacts() ([]models.Contact, error)

	// AppendLogEntry records an audit entry. Entries without an ID get one.
	AppendLogEntry(entry models.LogEntry) error
	// ListLogEntries returns entries newest first.
	ListLogEntries(filter models.LogFilter) ([]models.LogEntry, error)
	// PruneLogEntries deletes all but the newest keep entries.
	PruneLogEntries(keep int) (int64, error)

	Stats() (models.Stats, error)
	Close() error
}

// DSNType identifies a storage backend.
type DSNType string

const (
	DSNTypeMemory   DSNType = "memory"
	DSNTypeSQLite   DSNType = "sqlite"
	DSNTypePostgres DSNType = "postgres"
)

// DetectDSNType picks the backend for dsn. An empty DSN selects the in-memory store.
func DetectDSNType(dsn string) DSNType {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case d == "" || lower == ":memory:" || lower == "memory":
		return DSNTypeMemory
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DSNTypePostgres
	case strings.HasPrefix(lower, "file:"):
		return DSNTypeSQLite
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Opts holds configuration for store constructors.
type Opts struct {
	DSN    string
	LogCap int
	Clock  clock.Clock
}

// Option configures a store.
type Option func(*Opts)

// WithDSN sets the connection string; the backend is detected from it.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithLogCap sets how many log entries the in-memory store keeps.
func WithLogCap(n int) Option {
	return func(o *Opts) { o.LogCap = n }
}

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{LogCap: DefaultLogCap}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.LogCap <= 0 {
		cfg.LogCap = DefaultLogCap
	}
	return cfg
}

// Backend is a Store that also deduplicates inbound messages.
type Backend interface {
	Store
	DedupRepo
}

// NewStore creates the backend selected by the DSN.
func NewStore(opts ...Option) (Backend, error) {
	cfg := applyOpts(opts)
	kind := DetectDSNType(cfg.DSN)
	slog.Debug("store.NewStore: selecting backend", "type", kind)
	switch kind {
	case DSNTypeMemory:
		return NewInMemoryStore(opts...), nil
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeSQLite:
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported DSN type %q", kind)
	}
}
