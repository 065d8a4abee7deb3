// Package messaging adapts chat transports to the funnel: outbound sends and a normalized inbound stream.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// MinRecipientDigits is the shortest accepted phone number.
	MinRecipientDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable chat transport.
// It sends text and media and provides a channel of inbound messages.
type Service interface {
	delivery.Sender

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Start begins any background processing (e.g., event subscription).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbound returns a channel of messages received from contacts.
	Inbound() <-chan models.InboundMessage
}

// canonicalizeRecipient strips everything but digits from a WhatsApp address.
func canonicalizeRecipient(component, recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := models.NormalizeContactID(recipient)
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinRecipientDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinRecipientDigits)
	}
	if canonical != recipient {
		slog.Debug(component+" canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// inboundQueue is the shared inbound channel of a service, safe to emit into
// after Stop.
type inboundQueue struct {
	name    string
	ch      chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

func newInboundQueue(name string) *inboundQueue {
	return &inboundQueue{name: name, ch: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

// emit forwards msg, dropping it if the service is stopped or the channel
// stays full for DefaultChannelTimeout.
func (q *inboundQueue) emit(msg models.InboundMessage) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		slog.Warn(q.name+" dropping inbound message (service stopped)", "contactID", msg.ContactID)
		return false
	}
	select {
	case q.ch <- msg:
		slog.Debug(q.name+" inbound message forwarded", "contactID", msg.ContactID, "id", msg.ID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(q.name+" inbound channel blocked, dropping message", "contactID", msg.ContactID, "timeout", DefaultChannelTimeout)
		return false
	}
}

// stop closes the channel once. It reports whether this call stopped it.
func (q *inboundQueue) stop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.stopped = true
	close(q.ch)
	return true
}

func (q *inboundQueue) isStopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}
