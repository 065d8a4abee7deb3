// Package flow implements the per-contact funnel state machine.
package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// Stage is the position of a contact in the funnel.
type Stage int

const (
	StageInitial Stage = iota
	StageAwaitingLanguage
	StageDeliveringContent
	StageAwaitingDemo
	StageCompleted
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "INITIAL"
	case StageAwaitingLanguage:
		return "AWAITING_LANGUAGE"
	case StageDeliveringContent:
		return "DELIVERING_CONTENT"
	case StageAwaitingDemo:
		return "AWAITING_DEMO"
	case StageCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// needsLanguage reports whether the stage is only valid once a language is chosen.
func (s Stage) needsLanguage() bool {
	return s == StageDeliveringContent || s == StageAwaitingDemo
}

// ErrInvalidTransition is returned when a session change would produce an illegal state.
var ErrInvalidTransition = errors.New("invalid session transition")

// Session is one contact's pass through the funnel. Values are immutable;
// transitions return a new Session.
type Session struct {
	ContactID  string          `json:"contact_id"`
	Stage      Stage           `json:"stage"`
	Language   models.Language `json:"language,omitempty"`
	Generation uint64          `json:"generation"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// newSession starts a session awaiting a language choice.
func newSession(contactID string, generation uint64, now time.Time) Session {
	return Session{
		ContactID:  contactID,
		Stage:      StageAwaitingLanguage,
		Generation: generation,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsActive reports whether the session is somewhere between trigger and completion.
func (s Session) IsActive() bool {
	return s.Stage != StageInitial && s.Stage != StageCompleted
}

// withLanguage records the language choice and moves to content delivery.
func (s Session) withLanguage(lang models.Language, now time.Time) (Session, error) {
	if s.Stage != StageAwaitingLanguage {
		return s, fmt.Errorf("%w: language choice in %s", ErrInvalidTransition, s.Stage)
	}
	if !lang.IsValid() {
		return s, fmt.Errorf("%w: unknown language %q", ErrInvalidTransition, lang)
	}
	s.Language = lang
	return s.to(StageDeliveringContent, now)
}

// to moves the session to stage.
func (s Session) to(stage Stage, now time.Time) (Session, error) {
	if stage.needsLanguage() && !s.Language.IsValid() {
		return s, fmt.Errorf("%w: %s requires a language", ErrInvalidTransition, stage)
	}
	if stage == StageInitial {
		return s, fmt.Errorf("%w: cannot return to %s", ErrInvalidTransition, stage)
	}
	s.Stage = stage
	s.UpdatedAt = now
	return s, nil
}
