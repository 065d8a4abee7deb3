package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/models"
	"github.com/BTreeMap/FunnelPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// eventSource is implemented by clients that deliver whatsmeow events.
type eventSource interface {
	AddEventHandler(handler func(evt any)) uint32
}

// contactBook is implemented by clients that can look up the operator's
// saved contacts.
type contactBook interface {
	IsSavedContact(ctx context.Context, user string) bool
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	events   eventSource // nil for mocks
	contacts contactBook // nil when the client cannot look up contacts
	inbound  *inboundQueue
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		inbound: newInboundQueue("WhatsAppService"),
	}
	if src, ok := client.(eventSource); ok {
		service.events = src
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	if book, ok := client.(contactBook); ok {
		service.contacts = book
	}
	return service
}

// ValidateAndCanonicalizeRecipient accepts phone numbers and JIDs and returns digits only.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient("WhatsAppService", recipient)
}

// Start subscribes to client events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.events == nil {
		slog.Debug("WhatsAppService no event source available, skipping event handling (likely mock)")
		return nil
	}
	s.events.AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	if s.inbound.stop() {
		slog.Info("WhatsAppService stopped and channels closed")
	}
	return nil
}

// Inbound returns a channel of incoming messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound.ch
}

func (s *WhatsAppService) SendText(ctx context.Context, to, body string) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendText validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendText(ctx, canonicalTo, body)
}

func (s *WhatsAppService) SendMediaUpload(ctx context.Context, to string, media delivery.Media) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendMediaUpload(ctx, canonicalTo, media)
}

func (s *WhatsAppService) SendMediaFile(ctx context.Context, to string, file delivery.File) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendMediaFile(ctx, canonicalTo, file)
}

func (s *WhatsAppService) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		if msg, ok := inboundFromEvent(v); ok {
			s.markSaved(&msg)
			s.inbound.emit(msg)
		}
	case *events.Connected:
		slog.Info("WhatsAppService connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService disconnected")
	default:
		slog.Debug("WhatsAppService ignoring event type", "type", getEventType(v))
	}
}

// markSaved flags direct messages from contacts in the operator's address book.
func (s *WhatsAppService) markSaved(msg *models.InboundMessage) {
	if s.contacts == nil || msg.IsGroup || msg.FromMe {
		return
	}
	msg.Saved = s.contacts.IsSavedContact(context.Background(), msg.ContactID)
}

// inboundFromEvent converts a whatsmeow message event. Events without a
// message payload or a usable sender are dropped.
func inboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil {
		return models.InboundMessage{}, false
	}
	contactID := models.NormalizeContactID(evt.Info.Sender.User)
	if contactID == "" {
		contactID = models.NormalizeContactID(evt.Info.Chat.User)
	}
	if contactID == "" {
		slog.Debug("WhatsAppService ignoring message without sender", "id", evt.Info.ID)
		return models.InboundMessage{}, false
	}

	m := evt.Message
	msg := models.InboundMessage{
		ID:          string(evt.Info.ID),
		ContactID:   contactID,
		ContactName: evt.Info.PushName,
		IsGroup:     evt.Info.IsGroup,
		FromMe:      evt.Info.IsFromMe,
		Timestamp:   evt.Info.Timestamp,
	}
	switch {
	case m.GetConversation() != "":
		msg.Text = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		msg.Text = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		msg.MediaType = models.MediaTypeImage
		msg.Text = m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		msg.MediaType = models.MediaTypeVideo
		msg.Text = m.GetVideoMessage().GetCaption()
	case m.GetAudioMessage() != nil:
		msg.MediaType = models.MediaTypeAudio
	case m.GetDocumentMessage() != nil:
		msg.MediaType = models.MediaTypeDocument
		msg.Text = m.GetDocumentMessage().GetCaption()
	default:
		slog.Debug("WhatsAppService ignoring unsupported message content", "contactID", contactID, "id", evt.Info.ID)
		return models.InboundMessage{}, false
	}
	return msg, true
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt any) string {
	switch evt.(type) {
	case *events.Message:
		return "Message"
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
