package models

import (
	"strings"
	"time"
)

// InboundMessage is a transport-neutral chat message received from a contact.
type InboundMessage struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contact_id"` // normalized chat address
	ContactName string    `json:"contact_name,omitempty"`
	Text        string    `json:"text"`
	MediaType   MediaType `json:"media_type,omitempty"` // empty for plain text
	IsGroup     bool      `json:"is_group"`
	FromMe      bool      `json:"from_me"`
	Saved       bool      `json:"saved"` // sender is in the operator's address book
	Timestamp   time.Time `json:"timestamp"`
}

// NormalizeContactID strips transport decorations from a chat address so that
// "+91 98765-43210", "919876543210@s.whatsapp.net" and "whatsapp:+919876543210"
// all map to "919876543210".
func NormalizeContactID(address string) string {
	address = strings.TrimPrefix(strings.TrimSpace(address), "whatsapp:")
	if at := strings.IndexByte(address, '@'); at >= 0 {
		address = address[:at]
	}
	// Device suffix, e.g. "919876543210:12"
	if colon := strings.IndexByte(address, ':'); colon >= 0 {
		address = address[:colon]
	}
	var b strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
