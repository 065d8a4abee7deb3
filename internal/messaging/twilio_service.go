package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	client  delivery.Sender // real Twilio client or MockClient
	inbound *inboundQueue
	now     func() time.Time
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService wrapping client.
func NewTwilioService(client delivery.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: newInboundQueue("TwilioService"),
		now:     time.Now,
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient("TwilioService", recipient)
}

// Start is a no-op for Twilio (inbound is push via webhook)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.inbound.stop()
	return nil
}

// Inbound returns the channel fed by the webhook.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound.ch
}

func (s *TwilioService) SendText(ctx context.Context, to, body string) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendText(ctx, canonicalTo, body)
}

func (s *TwilioService) SendMediaUpload(ctx context.Context, to string, media delivery.Media) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendMediaUpload(ctx, canonicalTo, media)
}

func (s *TwilioService) SendMediaFile(ctx context.Context, to string, file delivery.File) error {
	if s.inbound.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendMediaFile(ctx, canonicalTo, file)
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them into the Inbound() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	msg, err := inboundFromForm(r, s.now())
	if err != nil {
		slog.Warn("Twilio webhook rejected", "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	slog.Info("Inbound WhatsApp message from Twilio", "contactID", msg.ContactID, "id", msg.ID)

	if !s.inbound.emit(msg) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// inboundFromForm builds a message from Twilio's webhook parameters.
func inboundFromForm(r *http.Request, now time.Time) (models.InboundMessage, error) {
	from := r.FormValue("From")
	body := r.FormValue("Body")
	numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))

	contactID := models.NormalizeContactID(from)
	if contactID == "" {
		return models.InboundMessage{}, fmt.Errorf("missing or invalid From %q", from)
	}
	if body == "" && numMedia == 0 {
		return models.InboundMessage{}, fmt.Errorf("empty message from %s", contactID)
	}

	msg := models.InboundMessage{
		ID:          r.FormValue("MessageSid"),
		ContactID:   contactID,
		ContactName: r.FormValue("ProfileName"),
		Text:        body,
		Timestamp:   now,
	}
	if numMedia > 0 {
		msg.MediaType = mediaTypeFromMIME(r.FormValue("MediaContentType0"))
	}
	return msg, nil
}

func mediaTypeFromMIME(contentType string) models.MediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.MediaTypeImage
	case strings.HasPrefix(contentType, "video/"):
		return models.MediaTypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return models.MediaTypeAudio
	default:
		return models.MediaTypeDocument
	}
}
