// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in FunnelPipe.
//
// It provides methods for sending text and media messages and for subscribing
// to WhatsApp events.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/models"
	"github.com/BTreeMap/FunnelPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/funnelpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Error variables for better error handling and testability
var (
	ErrNotInitialized = errors.New("whatsapp client not initialized")
	ErrNoStore        = errors.New("whatsapp client store not available")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	ErrEmptyMedia     = errors.New("media payload is empty")
)

// Sender is the outbound interface implemented by Client and MockClient.
type Sender = delivery.Sender

// Opts holds configuration options for the WhatsApp client.
// This focuses solely on WhatsApp/whatsmeow database configuration and login settings.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
}

var _ Sender = (*Client)(nil)

// driverFor returns the database/sql driver name for a whatsmeow store DSN.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		return "postgres"
	}
	return "sqlite3"
}

// hasForeignKeys reports whether a SQLite DSN enables foreign keys.
func hasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// NewClient creates a new WhatsApp client, applying any provided options for customization.
// This handles WhatsApp/whatsmeow database configuration with proper validation and warnings.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := driverFor(dbDSN)
	if dbDriver == "sqlite3" && !hasForeignKeys(dbDSN) {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"The whatsmeow library strongly recommends enabling foreign keys for data integrity. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver)
	logger := waLog.Stdout("Database", "INFO", true)
	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	waClient := whatsmeow.NewClient(deviceStore, clientLog)

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
				fmt.Println("Login event:", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient}, nil
}

func (c *Client) ready(to string) error {
	if c.waClient == nil {
		return ErrNotInitialized
	}
	if c.waClient.Store == nil {
		return ErrNoStore
	}
	if to == "" {
		return ErrEmptyRecipient
	}
	return nil
}

func (c *Client) send(ctx context.Context, to string, msg *waE2E.Message) error {
	jid := types.NewJID(to, JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// SendText sends a plain text message to the specified recipient.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if err := c.ready(to); err != nil {
		return err
	}
	if body == "" {
		return ErrEmptyBody
	}
	slog.Debug("Client.SendText: sending", "to", to, "body_length", len(body))
	if err := c.send(ctx, to, &waE2E.Message{Conversation: proto.String(body)}); err != nil {
		return err
	}
	slog.Debug("Client.SendText: sent", "to", to)
	return nil
}

// SendMediaUpload uploads media bytes to WhatsApp and sends them as an
// image, video, audio or document message.
func (c *Client) SendMediaUpload(ctx context.Context, to string, media delivery.Media) error {
	if err := c.ready(to); err != nil {
		return err
	}
	if len(media.Data) == 0 {
		return ErrEmptyMedia
	}
	appInfo := uploadType(media.Kind)
	slog.Debug("Client.SendMediaUpload: uploading", "to", to, "kind", media.Kind, "bytes", len(media.Data))
	up, err := c.waClient.Upload(ctx, media.Data, appInfo)
	if err != nil {
		slog.Error("Client.SendMediaUpload: upload failed", "error", err, "to", to)
		return fmt.Errorf("failed to upload %s for %s: %w", media.Kind, to, err)
	}
	msg := buildMediaMessage(media.Kind, up, media.MimeType, media.Caption, media.FileName)
	return c.send(ctx, to, msg)
}

// SendMediaFile sends a file from disk as a document attachment.
func (c *Client) SendMediaFile(ctx context.Context, to string, file delivery.File) error {
	if err := c.ready(to); err != nil {
		return err
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file.Path, err)
	}
	if len(data) == 0 {
		return ErrEmptyMedia
	}
	name := file.FileName
	if name == "" {
		name = filepath.Base(file.Path)
	}
	slog.Debug("Client.SendMediaFile: uploading document", "to", to, "file", name, "bytes", len(data))
	up, err := c.waClient.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		slog.Error("Client.SendMediaFile: upload failed", "error", err, "to", to)
		return fmt.Errorf("failed to upload %s for %s: %w", name, to, err)
	}
	msg := buildMediaMessage(models.MediaTypeDocument, up, file.MimeType, file.Caption, name)
	return c.send(ctx, to, msg)
}

// AddEventHandler registers a handler for whatsmeow events.
func (c *Client) AddEventHandler(handler func(evt any)) uint32 {
	if c.waClient == nil {
		return 0
	}
	return c.waClient.AddEventHandler(handler)
}

// IsSavedContact reports whether user is in the linked phone's address book.
// Lookup failures count as not saved.
func (c *Client) IsSavedContact(ctx context.Context, user string) bool {
	if c.waClient == nil || c.waClient.Store == nil || c.waClient.Store.Contacts == nil || user == "" {
		return false
	}
	info, err := c.waClient.Store.Contacts.GetContact(ctx, types.NewJID(user, JIDSuffix))
	if err != nil {
		slog.Warn("Client.IsSavedContact: lookup failed", "error", err, "user", user)
		return false
	}
	return info.Found && (info.FullName != "" || info.FirstName != "")
}

// Disconnect closes the connection to the WhatsApp servers.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

func uploadType(kind models.MediaType) whatsmeow.MediaType {
	switch kind {
	case models.MediaTypeImage:
		return whatsmeow.MediaImage
	case models.MediaTypeVideo:
		return whatsmeow.MediaVideo
	case models.MediaTypeAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

// buildMediaMessage wraps an upload result in the message type for kind.
func buildMediaMessage(kind models.MediaType, up whatsmeow.UploadResponse, mimeType, caption, fileName string) *waE2E.Message {
	var captionPtr *string
	if caption != "" {
		captionPtr = proto.String(caption)
	}
	switch kind {
	case models.MediaTypeImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       captionPtr,
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case models.MediaTypeVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       captionPtr,
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case models.MediaTypeAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       captionPtr,
			Title:         proto.String(fileName),
			FileName:      proto.String(fileName),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}
