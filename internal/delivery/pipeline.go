package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// Default transport size ceilings.
const (
	DefaultVideoLimit int64 = 16 * 1024 * 1024
	DefaultImageLimit int64 = 5 * 1024 * 1024
)

// Opts holds configuration for a Pipeline.
type Opts struct {
	Clock    clock.Clock
	MediaDir string
	Limits   map[models.MediaType]int64
	Recorder Recorder
}

// Option configures a Pipeline.
type Option func(*Opts)

// WithClock sets the clock used for latency measurement.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithMediaDir sets the directory relative media paths are resolved against.
func WithMediaDir(dir string) Option {
	return func(o *Opts) { o.MediaDir = dir }
}

// WithSizeLimit overrides the size ceiling for a media kind.
func WithSizeLimit(kind models.MediaType, bytes int64) Option {
	return func(o *Opts) { o.Limits[kind] = bytes }
}

// WithRecorder sets the instrumentation sink.
func WithRecorder(r Recorder) Option {
	return func(o *Opts) { o.Recorder = r }
}

// Pipeline delivers requests through the fallback chain.
type Pipeline struct {
	sender Sender
	logs   LogSink
	opts   Opts
}

// NewPipeline creates a Pipeline sending through sender and logging to logs.
func NewPipeline(sender Sender, logs LogSink, opts ...Option) *Pipeline {
	o := Opts{
		Clock: clock.Real(),
		Limits: map[models.MediaType]int64{
			models.MediaTypeVideo: DefaultVideoLimit,
			models.MediaTypeImage: DefaultImageLimit,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pipeline{sender: sender, logs: logs, opts: o}
}

// Deliver sends req, trying each method in order until one succeeds. It never
// panics; a failed Outcome means every method failed.
func (p *Pipeline) Deliver(ctx context.Context, req Request) Outcome {
	if req.Start.IsZero() {
		req.Start = p.opts.Clock.Now()
	}
	slog.Debug("Pipeline.Deliver: start", "contactID", req.ContactID, "media", req.MediaPath, "label", req.Label)

	var out Outcome
	if req.MediaPath == "" {
		if strings.TrimSpace(req.Text) == "" {
			out.Err = ErrEmptyMessage
			p.finish(req, &out)
			return out
		}
		p.run(req, &out, MethodText, models.MediaTypeText, func() error {
			return p.sender.SendText(ctx, req.ContactID, req.Text)
		})
		p.finish(req, &out)
		return out
	}

	path := p.resolve(req.MediaPath)
	kind := req.MediaKind
	if kind == "" {
		kind = kindFromPath(path)
	}

	if err := p.checkAsset(path, kind); err != nil {
		slog.Warn("Pipeline.Deliver: media skipped, sending caption as text", "contactID", req.ContactID, "path", path, "error", err)
		out.Skipped = err
		p.run(req, &out, MethodTextFallback, models.MediaTypeText, func() error {
			return p.sender.SendText(ctx, req.ContactID, req.Text)
		})
		p.finish(req, &out)
		return out
	}

	mimeType := mimeFor(path, kind)
	name := filepath.Base(path)
	steps := []step{
		{MethodUpload, kind, func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read media: %w", err)
			}
			return p.sender.SendMediaUpload(ctx, req.ContactID, Media{
				Data: data, MimeType: mimeType, FileName: name, Kind: kind, Caption: req.Text,
			})
		}},
		{MethodFile, kind, func() error {
			return p.sender.SendMediaFile(ctx, req.ContactID, File{
				Path: path, FileName: name, MimeType: mimeType, Kind: kind, Caption: req.Text,
			})
		}},
	}
	if req.ShortCaption != "" {
		steps = append(steps, step{MethodFileShortCaption, kind, func() error {
			return p.sender.SendMediaFile(ctx, req.ContactID, File{
				Path: path, FileName: name, MimeType: mimeType, Kind: kind, Caption: req.ShortCaption,
			})
		}})
	}
	if strings.TrimSpace(req.Text) != "" {
		steps = append(steps, step{MethodTextFallback, models.MediaTypeText, func() error {
			return p.sender.SendText(ctx, req.ContactID, req.Text)
		}})
	}

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			out.Attempts = append(out.Attempts, Attempt{Method: st.method, Err: err})
			break
		}
		if p.run(req, &out, st.method, st.mediaType, st.send) {
			break
		}
	}
	p.finish(req, &out)
	return out
}

type step struct {
	method    Method
	mediaType models.MediaType
	send      func() error
}

// run performs one attempt and reports whether it succeeded.
func (p *Pipeline) run(req Request, out *Outcome, method Method, mediaType models.MediaType, send func() error) bool {
	began := p.opts.Clock.Now()
	err := guard(send)
	attempt := Attempt{Method: method, Err: err, Duration: p.opts.Clock.Now().Sub(began)}
	out.Attempts = append(out.Attempts, attempt)
	if p.opts.Recorder != nil {
		p.opts.Recorder.RecordDeliveryAttempt(string(method), err == nil)
	}

	if err != nil {
		slog.Warn("Pipeline.Deliver: attempt failed", "contactID", req.ContactID, "method", method, "error", err)
		p.appendLog(req, models.LogEntry{
			MediaType: mediaType,
			Method:    string(method),
			Status:    models.LogStatusAttemptFailed,
			Error:     err.Error(),
		})
		return false
	}

	out.Delivered = true
	out.Method = method
	out.MediaType = mediaType
	return true
}

func (p *Pipeline) finish(req Request, out *Outcome) {
	if out.Delivered {
		out.Latency = p.opts.Clock.Now().Sub(req.Start)
		if p.opts.Recorder != nil {
			p.opts.Recorder.ObserveDeliveryLatency(string(out.MediaType), out.Latency)
		}
		p.appendLog(req, models.LogEntry{
			MediaType:    out.MediaType,
			Method:       string(out.Method),
			Status:       models.LogStatusDelivered,
			ResponseTime: out.Latency,
		})
		slog.Info("Pipeline.Deliver: delivered", "contactID", req.ContactID, "method", out.Method, "mediaType", out.MediaType, "latency", out.Latency)
		return
	}

	if out.Err == nil {
		errs := make([]error, 0, len(out.Attempts))
		for _, a := range out.Attempts {
			errs = append(errs, fmt.Errorf("%s: %w", a.Method, a.Err))
		}
		out.Err = errors.Join(errs...)
	}
	out.MediaType = models.MediaTypeText
	p.appendLog(req, models.LogEntry{
		MediaType: models.MediaTypeText,
		Status:    models.LogStatusFailed,
		Error:     out.Err.Error(),
	})
	slog.Error("Pipeline.Deliver: all methods failed", "contactID", req.ContactID, "attempts", len(out.Attempts), "error", out.Err)
}

func (p *Pipeline) appendLog(req Request, entry models.LogEntry) {
	if p.logs == nil {
		return
	}
	entry.ContactID = req.ContactID
	entry.ContactName = req.ContactName
	entry.Text = req.Label
	if entry.Text == "" {
		entry.Text = req.Text
	}
	entry.FromBot = true
	entry.Language = req.Language
	entry.Timestamp = p.opts.Clock.Now()
	if err := p.logs.AppendLogEntry(entry); err != nil {
		slog.Warn("Pipeline.appendLog: failed to record delivery log", "contactID", req.ContactID, "status", entry.Status, "error", err)
	}
}

func (p *Pipeline) resolve(path string) string {
	if filepath.IsAbs(path) || p.opts.MediaDir == "" {
		return path
	}
	return filepath.Join(p.opts.MediaDir, path)
}

func (p *Pipeline) checkAsset(path string, kind models.MediaType) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrAssetMissing, path)
		}
		return fmt.Errorf("failed to stat media: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrAssetMissing, path)
	}
	if limit, ok := p.opts.Limits[kind]; ok && limit > 0 && info.Size() > limit {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrAssetTooLarge, path, info.Size(), limit)
	}
	return nil
}

// guard converts a transport panic into an error.
func guard(send func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTransportPanic, r)
		}
	}()
	return send()
}

func kindFromPath(path string) models.MediaType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov", ".avi", ".3gp", ".mkv":
		return models.MediaTypeVideo
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return models.MediaTypeImage
	case ".mp3", ".ogg", ".opus", ".m4a", ".wav":
		return models.MediaTypeAudio
	default:
		return models.MediaTypeDocument
	}
}

func mimeFor(path string, kind models.MediaType) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	switch kind {
	case models.MediaTypeVideo:
		return "video/mp4"
	case models.MediaTypeImage:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
