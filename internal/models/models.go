// Package models defines the core data structures for FunnelPipe.
//
// It includes contacts, delivery log entries, inbound messages and the JSON
// envelope used by the diagnostics API. These types are shared across modules.
package models

import (
	"errors"
	"time"
)

// Language is the funnel language selected by a contact.
type Language string

const (
	// LanguageUnset means no language has been chosen yet.
	LanguageUnset Language = ""
	// LanguageEnglish selects the English funnel copy.
	LanguageEnglish Language = "en"
	// LanguageHindi selects the Hindi funnel copy.
	LanguageHindi Language = "hi"
)

// IsValid reports whether l is a selectable language.
func (l Language) IsValid() bool {
	return l == LanguageEnglish || l == LanguageHindi
}

// DisplayName returns the human readable language name.
func (l Language) DisplayName() string {
	switch l {
	case LanguageEnglish:
		return "English"
	case LanguageHindi:
		return "Hindi"
	default:
		return "unset"
	}
}

// MediaType describes what kind of payload a message carried.
type MediaType string

const (
	MediaTypeText     MediaType = "text"
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
)

// LogStatus is the outcome recorded on a delivery log entry.
type LogStatus string

const (
	// LogStatusReceived marks an inbound message from a contact.
	LogStatusReceived LogStatus = "received"
	// LogStatusDelivered marks the successful send of a delivery request.
	LogStatusDelivered LogStatus = "delivered"
	// LogStatusAttemptFailed marks a single failed send method inside a delivery.
	LogStatusAttemptFailed LogStatus = "attempt_failed"
	// LogStatusFailed marks a delivery request where every method failed.
	LogStatusFailed LogStatus = "failed"
)

// Error variables for better error handling and testability
var (
	ErrEmptyContactID = errors.New("contact ID cannot be empty")
	ErrContactNotFound = errors.New("contact not found")
)

// Contact is the data collaborator's view of a chat contact.
type Contact struct {
	ID                string     `json:"id"`
	Name              string     `json:"name,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	Language          Language   `json:"language,omitempty"`
	DemoRequested     bool       `json:"demo_requested"`
	ContactInfoShared bool       `json:"contact_info_shared"`
	MessageCount      int        `json:"message_count"`
	FirstSeen         time.Time  `json:"first_seen"`
	LastSeen          *time.Time `json:"last_seen,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ContactPatch holds the fields to merge into a contact. Nil fields are left untouched.
type ContactPatch struct {
	Name              *string
	Phone             *string
	Language          *Language
	DemoRequested     *bool
	ContactInfoShared *bool
	SeenAt            *time.Time // updates LastSeen
	CountMessage      bool       // increments MessageCount
}

// Apply merges the patch into c. now is used for UpdatedAt and, for new contacts, FirstSeen.
func (p ContactPatch) Apply(c *Contact, now time.Time) {
	if c.FirstSeen.IsZero() {
		c.FirstSeen = now
	}
	if p.Name != nil && *p.Name != "" {
		c.Name = *p.Name
	}
	if p.Phone != nil && *p.Phone != "" {
		c.Phone = *p.Phone
	}
	if p.Language != nil {
		c.Language = *p.Language
	}
	if p.DemoRequested != nil {
		c.DemoRequested = *p.DemoRequested
	}
	if p.ContactInfoShared != nil {
		c.ContactInfoShared = *p.ContactInfoShared
	}
	if p.SeenAt != nil {
		seen := *p.SeenAt
		c.LastSeen = &seen
	}
	if p.CountMessage {
		c.MessageCount++
	}
	c.UpdatedAt = now
}

// LogEntry is one append-only record in the delivery audit trail.
type LogEntry struct {
	ID           string        `json:"id"`
	ContactID    string        `json:"contact_id"`
	ContactName  string        `json:"contact_name,omitempty"`
	Text         string        `json:"text"`
	MediaType    MediaType     `json:"media_type,omitempty"`
	FromBot      bool          `json:"from_bot"`
	Language     Language      `json:"language,omitempty"`
	Method       string        `json:"method,omitempty"` // send method that produced this entry
	Status       LogStatus     `json:"status"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// LogFilter narrows ListLogEntries results. Zero values mean no filtering.
type LogFilter struct {
	ContactID string
	Limit     int
}

// Stats summarises the data collaborator's contents.
type Stats struct {
	TotalMessages       int               `json:"total_messages"`
	TotalContacts       int               `json:"total_contacts"`
	BotMessages         int               `json:"bot_messages"`
	UserMessages        int               `json:"user_messages"`
	FailedDeliveries    int               `json:"failed_deliveries"`
	AverageResponseTime time.Duration     `json:"average_response_time"`
	LanguageStats       map[string]int    `json:"language_stats"`
	MediaTypeStats      map[MediaType]int `json:"media_type_stats"`
	DemoRequested       int               `json:"demo_requested"`
	ContactInfoShared   int               `json:"contact_info_shared"`
}
