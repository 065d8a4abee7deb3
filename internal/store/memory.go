package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// InMemoryStore is a Store that keeps everything in process memory.
// The log keeps at most LogCap entries, dropping the oldest.
type InMemoryStore struct {
	mu       sync.RWMutex
	clock    clock.Clock
	logCap   int
	contacts map[string]models.Contact
	logs     []models.LogEntry // oldest first
	dedup    map[string]DedupRecord
	order    []string // dedup insertion order
}

var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	return &InMemoryStore{
		clock:    cfg.Clock,
		logCap:   cfg.LogCap,
		contacts: make(map[string]models.Contact),
		dedup:    make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) GetContact(id string) (*models.Contact, error) {
	if id == "" {
		return nil, models.ErrEmptyContactID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) UpsertContact(id string, patch models.ContactPatch) (models.Contact, error) {
	if id == "" {
		return models.Contact{}, models.ErrEmptyContactID
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		c = models.Contact{ID: id, FirstSeen: now}
	}
	patch.Apply(&c, now)
	s.contacts[id] = c
	return c, nil
}

func (s *InMemoryStore) ListContacts() ([]models.Contact, error) {
	s.mu.RLock()
	out := make([]models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) AppendLogEntry(entry models.LogEntry) error {
	if entry.ContactID == "" {
		return models.ErrEmptyContactID
	}
	entry = prepareEntry(entry, s.clock.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if over := len(s.logs) - s.logCap; over > 0 {
		s.logs = append([]models.LogEntry(nil), s.logs[over:]...)
	}
	return nil
}

func (s *InMemoryStore) ListLogEntries(filter models.LogFilter) ([]models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if filter.ContactID != "" && e.ContactID != filter.ContactID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) PruneLogEntries(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	over := len(s.logs) - keep
	if over <= 0 {
		return 0, nil
	}
	s.logs = append([]models.LogEntry(nil), s.logs[over:]...)
	return int64(over), nil
}

func (s *InMemoryStore) Stats() (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.Stats{
		TotalContacts:  len(s.contacts),
		LanguageStats:  map[string]int{},
		MediaTypeStats: map[models.MediaType]int{},
	}
	var total time.Duration
	for _, e := range s.logs {
		switch e.Status {
		case models.LogStatusReceived:
			stats.UserMessages++
		case models.LogStatusDelivered:
			stats.BotMessages++
			total += e.ResponseTime
		case models.LogStatusFailed:
			stats.FailedDeliveries++
		}
		if countsAsMessage(e.Status) {
			stats.TotalMessages++
			stats.MediaTypeStats[e.MediaType]++
		}
	}
	if stats.BotMessages > 0 {
		stats.AverageResponseTime = total / time.Duration(stats.BotMessages)
	}
	for _, c := range s.contacts {
		stats.LanguageStats[languageKey(c.Language)]++
		if c.DemoRequested {
			stats.DemoRequested++
		}
		if c.ContactInfoShared {
			stats.ContactInfoShared++
		}
	}
	return stats, nil
}

// Close is a no-op for InMemoryStore.
func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, contactID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, ContactID: contactID, ReceivedAt: s.clock.Now()}
	s.order = append(s.order, messageID)
	if over := len(s.order) - s.logCap; over > 0 {
		for _, id := range s.order[:over] {
			delete(s.dedup, id)
		}
		s.order = append([]string(nil), s.order[over:]...)
	}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := s.clock.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}
