package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestSendTextBuildsWhatsAppAddresses(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, Opts{FromWhats: "14155238886"})

	if err := c.SendText(context.Background(), "919876543210", "Hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected 1 request, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.To != "whatsapp:+919876543210" || *p.From != "whatsapp:+14155238886" || *p.Body != "Hello" {
		t.Errorf("unexpected params: to=%s from=%s body=%s", *p.To, *p.From, *p.Body)
	}
	if p.MediaUrl != nil {
		t.Errorf("text message should have no media URL")
	}
}

func TestSendMediaFileUsesPublicURL(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, Opts{FromWhats: "whatsapp:+14155238886", MediaBaseURL: "https://cdn.example.com/media/", MediaDir: "/srv/media"})

	err := c.SendMediaFile(context.Background(), "+919876543210", delivery.File{
		Path:    "/srv/media/videos/English Version _ Intro.mp4",
		Caption: "Watch",
	})
	if err != nil {
		t.Fatalf("SendMediaFile failed: %v", err)
	}
	p := api.params[0]
	want := "https://cdn.example.com/media/videos/English%20Version%20_%20Intro.mp4"
	if p.MediaUrl == nil || len(*p.MediaUrl) != 1 || (*p.MediaUrl)[0] != want {
		t.Errorf("MediaUrl = %v, want %s", p.MediaUrl, want)
	}
	if *p.To != "whatsapp:+919876543210" || *p.Body != "Watch" {
		t.Errorf("unexpected params: to=%s body=%s", *p.To, *p.Body)
	}
}

func TestSendMediaFileRejections(t *testing.T) {
	api := &fakeAPI{}
	noBase := newClient(api, Opts{FromWhats: "+1"})
	if err := noBase.SendMediaFile(context.Background(), "1", delivery.File{Path: "/srv/media/a.mp4"}); !errors.Is(err, delivery.ErrUnsupported) {
		t.Errorf("without base URL: err = %v, want ErrUnsupported", err)
	}

	c := newClient(api, Opts{FromWhats: "+1", MediaBaseURL: "https://cdn.example.com", MediaDir: "/srv/media"})
	if err := c.SendMediaFile(context.Background(), "1", delivery.File{Path: "/etc/passwd"}); !errors.Is(err, ErrOutsideMediaDir) {
		t.Errorf("outside media dir: err = %v, want ErrOutsideMediaDir", err)
	}
	if len(api.params) != 0 {
		t.Errorf("no request should be made, got %d", len(api.params))
	}
}

func TestSendMediaUploadUnsupported(t *testing.T) {
	c := newClient(&fakeAPI{}, Opts{FromWhats: "+1"})
	if err := c.SendMediaUpload(context.Background(), "1", delivery.Media{}); !errors.Is(err, delivery.ErrUnsupported) {
		t.Errorf("SendMediaUpload err = %v, want ErrUnsupported", err)
	}
}

func TestSendTextWrapsAPIError(t *testing.T) {
	apiErr := errors.New("21211 invalid To")
	c := newClient(&fakeAPI{err: apiErr}, Opts{FromWhats: "+1"})
	if err := c.SendText(context.Background(), "1", "hi"); !errors.Is(err, apiErr) {
		t.Errorf("SendText err = %v, want wrapped api error", err)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(WithFromWhats("+1")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); !errors.Is(err, ErrMissingFrom) {
		t.Errorf("err = %v, want ErrMissingFrom", err)
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("whatsapp:+14155238886"))
	if err != nil || c == nil {
		t.Fatalf("NewClient failed: %v", err)
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()
	mock.SendText(ctx, "12345", "Hello Test")
	mock.SendMediaFile(ctx, "12345", delivery.File{Path: "/m/a.mp4", Caption: "c"})

	if len(mock.SentMessages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].Body != "Hello Test" || mock.SentMessages[1].MediaURL != "/m/a.mp4" {
		t.Errorf("unexpected messages: %+v", mock.SentMessages)
	}
	if err := mock.SendMediaUpload(ctx, "12345", delivery.Media{}); !errors.Is(err, delivery.ErrUnsupported) {
		t.Errorf("SendMediaUpload err = %v", err)
	}
}
