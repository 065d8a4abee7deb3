package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/models"
	"github.com/google/uuid"
)

const contactColumns = `id, name, phone, language, demo_requested, contact_info_shared, message_count, first_seen, last_seen, updated_at`

const logColumns = `id, contact_id, contact_name, text, media_type, from_bot, language, method, status, response_time_ms, error, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (models.Contact, error) {
	var c models.Contact
	var lang string
	var lastSeen sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Phone, &lang, &c.DemoRequested, &c.ContactInfoShared,
		&c.MessageCount, &c.FirstSeen, &lastSeen, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Language = models.Language(lang)
	if lastSeen.Valid {
		t := lastSeen.Time
		c.LastSeen = &t
	}
	return c, nil
}

func scanLogEntry(row rowScanner) (models.LogEntry, error) {
	var e models.LogEntry
	var media, lang, method, status string
	var rtMillis int64
	err := row.Scan(
		&e.ID, &e.ContactID, &e.ContactName, &e.Text, &media, &e.FromBot,
		&lang, &method, &status, &rtMillis, &e.Error, &e.Timestamp,
	)
	if err != nil {
		return e, fmt.Errorf("scan log entry failed: %w", err)
	}
	e.MediaType = models.MediaType(media)
	e.Language = models.Language(lang)
	e.Method = method
	e.Status = models.LogStatus(status)
	e.ResponseTime = time.Duration(rtMillis) * time.Millisecond
	return e, nil
}

// prepareEntry fills in the ID, timestamp and media type of an entry.
func prepareEntry(entry models.LogEntry, now time.Time) models.LogEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.MediaType == "" {
		entry.MediaType = models.MediaTypeText
	}
	return entry
}

// upsertContactTx applies patch to the contact inside tx. selectQuery must
// select contactColumns for one id; upsertQuery must insert or update all of them.
func upsertContactTx(tx *sql.Tx, selectQuery, upsertQuery, id string, patch models.ContactPatch, now time.Time) (models.Contact, error) {
	c, err := scanContact(tx.QueryRow(selectQuery, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c = models.Contact{ID: id, FirstSeen: now}
	case err != nil:
		return models.Contact{}, fmt.Errorf("load contact failed: %w", err)
	}
	patch.Apply(&c, now)

	var lastSeen any
	if c.LastSeen != nil {
		lastSeen = *c.LastSeen
	}
	_, err = tx.Exec(upsertQuery,
		c.ID, c.Name, c.Phone, string(c.Language), c.DemoRequested, c.ContactInfoShared,
		c.MessageCount, c.FirstSeen, lastSeen, c.UpdatedAt,
	)
	if err != nil {
		return models.Contact{}, fmt.Errorf("upsert contact failed: %w", err)
	}
	return c, nil
}

// sqlStats aggregates dashboard statistics. The queries take no parameters
// and run unchanged on SQLite and PostgreSQL.
func sqlStats(db *sql.DB) (models.Stats, error) {
	stats := models.Stats{
		LanguageStats:  map[string]int{},
		MediaTypeStats: map[models.MediaType]int{},
	}

	var avgMillis sql.NullFloat64
	err := db.QueryRow(`SELECT
		COALESCE(SUM(CASE WHEN status IN ('received', 'delivered') THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'received' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		AVG(CASE WHEN status = 'delivered' THEN response_time_ms END)
		FROM log_entries`).Scan(
		&stats.TotalMessages, &stats.BotMessages, &stats.UserMessages, &stats.FailedDeliveries, &avgMillis,
	)
	if err != nil {
		return stats, fmt.Errorf("message stats failed: %w", err)
	}
	if avgMillis.Valid {
		stats.AverageResponseTime = time.Duration(avgMillis.Float64 * float64(time.Millisecond))
	}

	err = db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN demo_requested THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN contact_info_shared THEN 1 ELSE 0 END), 0)
		FROM contacts`).Scan(&stats.TotalContacts, &stats.DemoRequested, &stats.ContactInfoShared)
	if err != nil {
		return stats, fmt.Errorf("contact stats failed: %w", err)
	}

	rows, err := db.Query(`SELECT language, COUNT(*) FROM contacts GROUP BY language`)
	if err != nil {
		return stats, fmt.Errorf("language stats failed: %w", err)
	}
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan language stats failed: %w", err)
		}
		stats.LanguageStats[languageKey(models.Language(lang))] += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = db.Query(`SELECT media_type, COUNT(*) FROM log_entries WHERE status IN ('received', 'delivered') GROUP BY media_type`)
	if err != nil {
		return stats, fmt.Errorf("media stats failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var media string
		var n int
		if err := rows.Scan(&media, &n); err != nil {
			return stats, fmt.Errorf("scan media stats failed: %w", err)
		}
		stats.MediaTypeStats[models.MediaType(media)] += n
	}
	return stats, rows.Err()
}

// languageKey is the LanguageStats bucket for a contact's language.
func languageKey(l models.Language) string {
	if l == models.LanguageUnset {
		return "unset"
	}
	return string(l)
}

// countsAsMessage reports whether an entry is a real message rather than a
// delivery attempt record.
func countsAsMessage(s models.LogStatus) bool {
	return s == models.LogStatusReceived || s == models.LogStatusDelivered
}
