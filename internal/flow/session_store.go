package flow

import (
	"log/slog"
	"sort"
	"sync"
)

// SessionStore keeps the current session of each contact in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	slog.Debug("Creating SessionStore")
	return &SessionStore{sessions: make(map[string]Session)}
}

// Get returns the session for contactID, or an INITIAL session if none exists.
func (s *SessionStore) Get(contactID string) Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[contactID]; ok {
		return sess
	}
	return Session{ContactID: contactID, Stage: StageInitial}
}

// Put stores sess, replacing any previous session of the same contact.
func (s *SessionStore) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ContactID] = sess
	slog.Debug("SessionStore.Put", "contactID", sess.ContactID, "stage", sess.Stage, "generation", sess.Generation)
}

// Delete drops the session of contactID. It reports whether one existed.
func (s *SessionStore) Delete(contactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[contactID]
	delete(s.sessions, contactID)
	return ok
}

// List returns all stored sessions ordered by contact ID.
func (s *SessionStore) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out
}
