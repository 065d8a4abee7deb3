package flow

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
)

// TimerKind identifies the purpose of a per-contact timer.
type TimerKind int

const (
	LanguageReminder TimerKind = iota + 1
	DemoReminder
	DemoPrompt
)

// String returns the kind name.
func (k TimerKind) String() string {
	switch k {
	case LanguageReminder:
		return "LANGUAGE_REMINDER"
	case DemoReminder:
		return "DEMO_REMINDER"
	case DemoPrompt:
		return "DEMO_PROMPT"
	default:
		return fmt.Sprintf("TimerKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k TimerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// TimerInfo is a diagnostics view of a live timer.
type TimerInfo struct {
	ContactID   string    `json:"contact_id"`
	Kind        TimerKind `json:"kind"`
	Token       uint64    `json:"token"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
}

type timerKey struct {
	contactID string
	kind      TimerKind
}

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       clock.Timer
	token       uint64
	scheduledAt time.Time
	expiresAt   time.Time
}

// ReminderScheduler runs one-shot callbacks keyed by (contact, kind). At most
// one entry exists per key: scheduling again replaces the previous entry.
type ReminderScheduler struct {
	clock   clock.Clock
	timers  map[timerKey]*timerEntry
	mu      sync.Mutex
	nextTok uint64
	stopped bool
}

// NewReminderScheduler creates a scheduler driven by clk.
func NewReminderScheduler(clk clock.Clock) *ReminderScheduler {
	slog.Debug("Creating ReminderScheduler")
	if clk == nil {
		clk = clock.Real()
	}
	return &ReminderScheduler{
		clock:  clk,
		timers: make(map[timerKey]*timerEntry),
	}
}

// Schedule registers fire to run after delay, cancelling any existing entry
// with the same key. fire receives the entry token and must Claim it before
// acting. Returns the token, or 0 if the scheduler is stopped.
func (s *ReminderScheduler) Schedule(contactID string, kind TimerKind, delay time.Duration, fire func(token uint64)) uint64 {
	key := timerKey{contactID: contactID, kind: kind}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		slog.Warn("ReminderScheduler.Schedule: scheduler stopped", "contactID", contactID, "kind", kind)
		return 0
	}
	if old, exists := s.timers[key]; exists {
		old.timer.Stop()
		delete(s.timers, key)
		slog.Debug("ReminderScheduler.Schedule: replaced existing timer", "contactID", contactID, "kind", kind, "oldToken", old.token)
	}

	s.nextTok++
	token := s.nextTok
	now := s.clock.Now()
	entry := &timerEntry{token: token, scheduledAt: now, expiresAt: now.Add(delay)}
	s.timers[key] = entry
	entry.timer = s.clock.AfterFunc(delay, func() { s.fire(key, token, fire) })

	slog.Debug("ReminderScheduler.Schedule: scheduled", "contactID", contactID, "kind", kind, "delay", delay, "token", token)
	return token
}

func (s *ReminderScheduler) fire(key timerKey, token uint64, fn func(uint64)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ReminderScheduler.fire: callback panicked", "contactID", key.contactID, "kind", key.kind, "panic", r)
		}
		s.release(key, token)
	}()
	if !s.IsLiveToken(key.contactID, key.kind, token) {
		slog.Debug("ReminderScheduler.fire: stale timer skipped", "contactID", key.contactID, "kind", key.kind, "token", token)
		return
	}
	fn(token)
}

// release removes the entry after its callback ran, unless it was replaced.
func (s *ReminderScheduler) release(key timerKey, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.timers[key]; ok && entry.token == token {
		delete(s.timers, key)
	}
}

// Claim atomically checks that the entry for the key still carries token and
// removes it. A callback that loses the claim must not act.
func (s *ReminderScheduler) Claim(contactID string, kind TimerKind, token uint64) bool {
	key := timerKey{contactID: contactID, kind: kind}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[key]
	if !ok || entry.token != token {
		return false
	}
	delete(s.timers, key)
	return true
}

// Cancel removes the entry for the key. A callback already running is not
// interrupted but will fail its Claim.
func (s *ReminderScheduler) Cancel(contactID string, kind TimerKind) bool {
	key := timerKey{contactID: contactID, kind: kind}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.timers[key]
	if !exists {
		return false
	}
	entry.timer.Stop()
	delete(s.timers, key)
	slog.Debug("ReminderScheduler.Cancel: cancelled", "contactID", contactID, "kind", kind, "token", entry.token)
	return true
}

// CancelAll removes every entry for contactID and returns how many were removed.
func (s *ReminderScheduler) CancelAll(contactID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, entry := range s.timers {
		if key.contactID != contactID {
			continue
		}
		entry.timer.Stop()
		delete(s.timers, key)
		n++
	}
	if n > 0 {
		slog.Debug("ReminderScheduler.CancelAll: cancelled", "contactID", contactID, "count", n)
	}
	return n
}

// IsLive reports whether an entry exists for the key.
func (s *ReminderScheduler) IsLive(contactID string, kind TimerKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[timerKey{contactID: contactID, kind: kind}]
	return ok
}

// IsLiveToken reports whether the entry for the key carries token.
func (s *ReminderScheduler) IsLiveToken(contactID string, kind TimerKind, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[timerKey{contactID: contactID, kind: kind}]
	return ok && entry.token == token
}

// Stop cancels all scheduled timers. Later Schedule calls are refused.
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Debug("ReminderScheduler stopping all timers", "count", len(s.timers))
	for _, entry := range s.timers {
		entry.timer.Stop()
	}
	s.timers = make(map[timerKey]*timerEntry)
	s.stopped = true
	slog.Info("ReminderScheduler stopped all timers")
}

// ListActive returns information about all live timers, ordered by expiry.
func (s *ReminderScheduler) ListActive() []TimerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(func(timerKey) bool { return true })
}

// ListForContact returns the live timers of one contact.
func (s *ReminderScheduler) ListForContact(contactID string) []TimerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(func(k timerKey) bool { return k.contactID == contactID })
}

func (s *ReminderScheduler) listLocked(match func(timerKey) bool) []TimerInfo {
	now := s.clock.Now()
	result := make([]TimerInfo, 0, len(s.timers))
	for key, entry := range s.timers {
		if !match(key) {
			continue
		}
		remaining := entry.expiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		result = append(result, TimerInfo{
			ContactID:   key.contactID,
			Kind:        key.kind,
			Token:       entry.token,
			ScheduledAt: entry.scheduledAt,
			ExpiresAt:   entry.expiresAt,
			Remaining:   remaining.String(),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].Token < result[j].Token
		}
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	return result
}
