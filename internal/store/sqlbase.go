package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// queries holds the dialect-specific statements of a SQL backend.
type queries struct {
	selectContact     string
	selectContactLock string
	upsertContact     string
	listContacts      string
	insertLog         string
	listLogs          string
	listLogsByContact string
	pruneLogs         string
	// noLimit is the LIMIT argument meaning "all rows".
	noLimit any
}

// sqlBase implements Store on top of database/sql for both SQL backends.
type sqlBase struct {
	name  string
	db    *sql.DB
	clock clock.Clock
	q     queries
}

func (s *sqlBase) GetContact(id string) (*models.Contact, error) {
	if id == "" {
		return nil, models.ErrEmptyContactID
	}
	c, err := scanContact(s.db.QueryRow(s.q.selectContact, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetContact failed", "error", err, "contact", id)
		return nil, fmt.Errorf("failed to get contact %s: %w", id, err)
	}
	return &c, nil
}

func (s *sqlBase) UpsertContact(id string, patch models.ContactPatch) (models.Contact, error) {
	if id == "" {
		return models.Contact{}, models.ErrEmptyContactID
	}
	tx, err := s.db.Begin()
	if err != nil {
		return models.Contact{}, fmt.Errorf("begin transaction failed: %w", err)
	}
	c, err := upsertContactTx(tx, s.q.selectContactLock, s.q.upsertContact, id, patch, s.clock.Now())
	if err != nil {
		tx.Rollback()
		slog.Error(s.name+".UpsertContact failed", "error", err, "contact", id)
		return models.Contact{}, err
	}
	if err := tx.Commit(); err != nil {
		slog.Error(s.name+".UpsertContact commit failed", "error", err, "contact", id)
		return models.Contact{}, fmt.Errorf("commit failed: %w", err)
	}
	slog.Debug(s.name+".UpsertContact succeeded", "contact", id, "language", c.Language, "messages", c.MessageCount)
	return c, nil
}

func (s *sqlBase) ListContacts() ([]models.Contact, error) {
	rows, err := s.db.Query(s.q.listContacts)
	if err != nil {
		slog.Error(s.name+".ListContacts query failed", "error", err)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact rows: %w", err)
	}
	return contacts, nil
}

func (s *sqlBase) AppendLogEntry(entry models.LogEntry) error {
	if entry.ContactID == "" {
		return models.ErrEmptyContactID
	}
	e := prepareEntry(entry, s.clock.Now())
	_, err := s.db.Exec(s.q.insertLog,
		e.ID, e.ContactID, e.ContactName, e.Text, string(e.MediaType), e.FromBot,
		string(e.Language), e.Method, string(e.Status), e.ResponseTime.Milliseconds(), e.Error, e.Timestamp,
	)
	if err != nil {
		slog.Error(s.name+".AppendLogEntry failed", "error", err, "contact", e.ContactID, "status", e.Status)
		return fmt.Errorf("failed to insert log entry for %s: %w", e.ContactID, err)
	}
	return nil
}

func (s *sqlBase) ListLogEntries(filter models.LogFilter) ([]models.LogEntry, error) {
	var limit any = filter.Limit
	if filter.Limit <= 0 {
		limit = s.q.noLimit
	}
	var rows *sql.Rows
	var err error
	if filter.ContactID != "" {
		rows, err = s.db.Query(s.q.listLogsByContact, filter.ContactID, limit)
	} else {
		rows, err = s.db.Query(s.q.listLogs, limit)
	}
	if err != nil {
		slog.Error(s.name+".ListLogEntries query failed", "error", err)
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqlBase) PruneLogEntries(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.Exec(s.q.pruneLogs, keep)
	if err != nil {
		slog.Error(s.name+".PruneLogEntries failed", "error", err)
		return 0, fmt.Errorf("failed to prune log entries: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug(s.name+".PruneLogEntries succeeded", "deleted", n, "keep", keep)
	return n, nil
}

func (s *sqlBase) Stats() (models.Stats, error) {
	return sqlStats(s.db)
}

// Close closes the underlying database connection.
func (s *sqlBase) Close() error {
	return s.db.Close()
}
