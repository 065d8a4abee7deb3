// Package delivery sends funnel content to a contact through an ordered chain
// of send methods, falling back to plain text, and records every attempt.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// Error variables for better error handling and testability
var (
	// ErrUnsupported is returned by a Sender that has no implementation of a send method.
	ErrUnsupported    = errors.New("send method not supported by transport")
	ErrAssetMissing   = errors.New("media asset not found")
	ErrAssetTooLarge  = errors.New("media asset exceeds transport size limit")
	ErrTransportPanic = errors.New("transport panicked")
	ErrEmptyMessage   = errors.New("delivery request has no text and no media")
)

// Media is a binary payload for the primary send method.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
	Kind     models.MediaType
	Caption  string
}

// File is a file reference for the alternate send method. Path is absolute.
type File struct {
	Path     string
	FileName string
	MimeType string
	Kind     models.MediaType
	Caption  string
}

// Sender is the outbound side of a chat transport.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendMediaUpload(ctx context.Context, to string, media Media) error
	SendMediaFile(ctx context.Context, to string, file File) error
}

// LogSink receives delivery audit entries.
type LogSink interface {
	AppendLogEntry(entry models.LogEntry) error
}

// Recorder receives per-attempt instrumentation.
type Recorder interface {
	RecordDeliveryAttempt(method string, ok bool)
	ObserveDeliveryLatency(mediaType string, d time.Duration)
}

// Method identifies one step of the fallback chain.
type Method string

const (
	MethodText             Method = "text"
	MethodUpload           Method = "upload"
	MethodFile             Method = "file"
	MethodFileShortCaption Method = "file_short_caption"
	MethodTextFallback     Method = "text_fallback"
)

// Request describes one piece of content for one contact.
type Request struct {
	ContactID   string
	ContactName string
	// Text is the message body, or the full caption when MediaPath is set.
	Text string
	// ShortCaption enables the shortened-caption retry when non-empty.
	ShortCaption string
	// MediaPath is resolved against the pipeline media directory unless absolute.
	MediaPath string
	MediaKind models.MediaType
	Language  models.Language
	// Label is the log description of this delivery; Text is logged when empty.
	Label string
	// Start is the moment the triggering message arrived; latency is measured from it.
	Start time.Time
}

// Attempt is the result of one send method.
type Attempt struct {
	Method   Method
	Err      error
	Duration time.Duration
}

// Outcome summarises a Deliver call.
type Outcome struct {
	Delivered bool
	Method    Method
	MediaType models.MediaType
	Attempts  []Attempt
	Latency   time.Duration
	// Skipped is set when the media asset was not attempted (missing or too large).
	Skipped error
	Err     error
}
