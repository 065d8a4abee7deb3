package whatsapp

import (
	"context"
	"sync"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
)

// SentMessage is one call recorded by MockClient.
type SentMessage struct {
	To     string
	Method delivery.Method
	Body   string
	Media  *delivery.Media
	File   *delivery.File
}

// MockClient implements the same interface as Client but records calls instead
// of talking to WhatsApp. In tests, use whatsapp.NewMockClient() instead of NewClient.
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage

	// Per-method failures; nil means the call succeeds.
	TextErr   error
	UploadErr error
	FileErr   error

	// SavedContacts lists users reported as saved by IsSavedContact.
	SavedContacts map[string]bool
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendText(ctx context.Context, to, body string) error {
	return m.record(SentMessage{To: to, Method: delivery.MethodText, Body: body}, m.TextErr)
}

func (m *MockClient) SendMediaUpload(ctx context.Context, to string, media delivery.Media) error {
	return m.record(SentMessage{To: to, Method: delivery.MethodUpload, Body: media.Caption, Media: &media}, m.UploadErr)
}

func (m *MockClient) SendMediaFile(ctx context.Context, to string, file delivery.File) error {
	return m.record(SentMessage{To: to, Method: delivery.MethodFile, Body: file.Caption, File: &file}, m.FileErr)
}

func (m *MockClient) record(msg SentMessage, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of the successful calls in order.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Reset clears the recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// IsSavedContact reports whether user is listed in SavedContacts.
func (m *MockClient) IsSavedContact(ctx context.Context, user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SavedContacts[user]
}
