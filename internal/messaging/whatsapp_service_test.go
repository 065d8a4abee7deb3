package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/models"
	"github.com/BTreeMap/FunnelPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func messageEvent(user string, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID(user, types.DefaultUserServer),
				Sender: types.NewJID(user, types.DefaultUserServer),
			},
			ID:        "3EB0C767D26A1D8E",
			PushName:  "Asha",
			Timestamp: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		},
		Message: msg,
	}
}

func TestWhatsAppService_SendCanonicalizes(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()

	if err := svc.SendText(ctx, "+91 98765-43210", "hello"); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	if err := svc.SendMediaFile(ctx, "919876543210@s.whatsapp.net", delivery.File{Path: "/m/a.mp4"}); err != nil {
		t.Fatalf("SendMediaFile returned error: %v", err)
	}
	sent := mockClient.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	for _, s := range sent {
		if s.To != "919876543210" {
			t.Errorf("expected canonical recipient, got %q", s.To)
		}
	}

	if err := svc.SendText(ctx, "123", "hello"); err == nil {
		t.Error("expected error for too-short recipient")
	}
}

func TestWhatsAppService_SendPropagatesTransportError(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	mockClient.UploadErr = errors.New("media upload failed")
	svc := NewWhatsAppService(mockClient)
	err := svc.SendMediaUpload(context.Background(), "919876543210", delivery.Media{Data: []byte{1}})
	if !errors.Is(err, mockClient.UploadErr) {
		t.Errorf("expected upload error, got %v", err)
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Inbound(); ok {
		t.Error("expected inbound channel closed")
	}
	if err := svc.SendText(context.Background(), "919876543210", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("SendText after Stop = %v, want ErrServiceStopped", err)
	}
}

func TestInboundFromEvent(t *testing.T) {
	tests := []struct {
		name      string
		msg       *waE2E.Message
		wantOK    bool
		wantText  string
		wantMedia models.MediaType
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("Hi there")}, true, "Hi there", ""},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hindi")}}, true, "hindi", ""},
		{"image with caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, true, "look", models.MediaTypeImage},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, true, "", models.MediaTypeVideo},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, true, "", models.MediaTypeAudio},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("cv")}}, true, "cv", models.MediaTypeDocument},
		{"unsupported", &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{}}, false, "", ""},
		{"nil message", nil, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := inboundFromEvent(messageEvent("919876543210", tt.msg))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Text != tt.wantText || got.MediaType != tt.wantMedia {
				t.Errorf("got text=%q media=%q, want %q/%q", got.Text, got.MediaType, tt.wantText, tt.wantMedia)
			}
			if got.ContactID != "919876543210" || got.ContactName != "Asha" || got.ID != "3EB0C767D26A1D8E" {
				t.Errorf("unexpected identity fields: %+v", got)
			}
		})
	}
}

func TestInboundFromEventFlags(t *testing.T) {
	evt := messageEvent("919876543210", &waE2E.Message{Conversation: proto.String("hi")})
	evt.Info.IsGroup = true
	evt.Info.IsFromMe = true
	got, ok := inboundFromEvent(evt)
	if !ok || !got.IsGroup || !got.FromMe {
		t.Errorf("flags not carried: ok=%v msg=%+v", ok, got)
	}
}

func TestWhatsAppService_HandleEventEmits(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.handleEvent(messageEvent("919876543210", &waE2E.Message{Conversation: proto.String("hello")}))
	svc.handleEvent(&events.Connected{})

	select {
	case msg := <-svc.Inbound():
		if msg.Text != "hello" {
			t.Errorf("unexpected message: %+v", msg)
		}
	default:
		t.Fatal("expected an inbound message")
	}
	select {
	case msg := <-svc.Inbound():
		t.Errorf("unexpected extra message: %+v", msg)
	default:
	}
}

func TestWhatsAppService_HandleEventMarksSavedContacts(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	mockClient.SavedContacts = map[string]bool{"919876543210": true}
	svc := NewWhatsAppService(mockClient)

	svc.handleEvent(messageEvent("919876543210", &waE2E.Message{Conversation: proto.String("get info")}))
	svc.handleEvent(messageEvent("918888777766", &waE2E.Message{Conversation: proto.String("get info")}))

	want := map[string]bool{"919876543210": true, "918888777766": false}
	for range want {
		select {
		case msg := <-svc.Inbound():
			if msg.Saved != want[msg.ContactID] {
				t.Errorf("%s: Saved = %v, want %v", msg.ContactID, msg.Saved, want[msg.ContactID])
			}
		default:
			t.Fatal("expected an inbound message")
		}
	}
}
