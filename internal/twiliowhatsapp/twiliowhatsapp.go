// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in FunnelPipe.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Error variables for better error handling and testability
var (
	ErrMissingCredentials = errors.New("account SID and auth token must be provided")
	ErrMissingFrom        = errors.New("fromWhats number must be provided")
	ErrOutsideMediaDir    = errors.New("media file is outside the public media directory")
)

// messageCreator is the part of the Twilio REST API the client uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
	// MediaBaseURL is the public URL that serves MediaDir. Twilio fetches
	// media from it; without it file sends are unsupported.
	MediaBaseURL string
	MediaDir     string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sender, in "whatsapp:+1234567890" format.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithMediaBaseURL sets the public base URL and the local directory it serves.
func WithMediaBaseURL(baseURL, mediaDir string) Option {
	return func(o *Opts) {
		o.MediaBaseURL = baseURL
		o.MediaDir = mediaDir
	}
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	api       messageCreator
	fromWhats string
	baseURL   string
	mediaDir  string
}

var _ delivery.Sender = (*Client)(nil)

func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "",
		"MediaBaseURL_set", cfg.MediaBaseURL != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.FromWhats == "" {
		return nil, ErrMissingFrom
	}

	rest := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return newClient(rest.Api, cfg), nil
}

func newClient(api messageCreator, cfg Opts) *Client {
	from := cfg.FromWhats
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + withPlus(from)
	}
	return &Client{
		api:       api,
		fromWhats: from,
		baseURL:   strings.TrimRight(cfg.MediaBaseURL, "/"),
		mediaDir:  cfg.MediaDir,
	}
}

func withPlus(number string) string {
	if strings.HasPrefix(number, "+") {
		return number
	}
	return "+" + number
}

func (c *Client) create(to, body string, mediaURL string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + withPlus(to))
	params.SetFrom(c.fromWhats)
	if body != "" {
		params.SetBody(body)
	}
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}
	if _, err := c.api.CreateMessage(params); err != nil {
		slog.Error("Twilio CreateMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// SendText sends a WhatsApp text message using Twilio API.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if err := c.create(to, body, ""); err != nil {
		return err
	}
	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// SendMediaUpload is unsupported: Twilio only accepts media by URL.
func (c *Client) SendMediaUpload(ctx context.Context, to string, media delivery.Media) error {
	return delivery.ErrUnsupported
}

// SendMediaFile sends a file from the media directory by its public URL.
func (c *Client) SendMediaFile(ctx context.Context, to string, file delivery.File) error {
	mediaURL, err := c.publicURL(file.Path)
	if err != nil {
		return err
	}
	if err := c.create(to, file.Caption, mediaURL); err != nil {
		return err
	}
	slog.Debug("Twilio media message sent", "to", to, "url", mediaURL)
	return nil
}

// publicURL maps a path under the media directory to its public URL.
func (c *Client) publicURL(path string) (string, error) {
	if c.baseURL == "" || c.mediaDir == "" {
		return "", delivery.ErrUnsupported
	}
	rel, err := filepath.Rel(c.mediaDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideMediaDir, path)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(parts, "/"), nil
}

// MockClient records sends for tests.
type MockClient struct {
	SentMessages []SentMessage
}

type SentMessage struct {
	To       string
	Body     string
	MediaURL string
}

var _ delivery.Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendText(ctx context.Context, to, body string) error {
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) SendMediaUpload(ctx context.Context, to string, media delivery.Media) error {
	return delivery.ErrUnsupported
}

func (m *MockClient) SendMediaFile(ctx context.Context, to string, file delivery.File) error {
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: file.Caption, MediaURL: file.Path})
	return nil
}
