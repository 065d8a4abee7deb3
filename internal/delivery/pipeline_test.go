package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

type sentMessage struct {
	method  string
	to      string
	caption string
	data    []byte
	mime    string
}

// recordingSender is a hand mock Sender with per-method failure hooks.
type recordingSender struct {
	mu       sync.Mutex
	sent     []sentMessage
	onText   func(body string) error
	onUpload func(m Media) error
	onFile   func(f File) error
}

func (s *recordingSender) SendText(ctx context.Context, to, body string) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentMessage{method: "text", to: to, caption: body})
	s.mu.Unlock()
	if s.onText != nil {
		return s.onText(body)
	}
	return nil
}

func (s *recordingSender) SendMediaUpload(ctx context.Context, to string, m Media) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentMessage{method: "upload", to: to, caption: m.Caption, data: m.Data, mime: m.MimeType})
	s.mu.Unlock()
	if s.onUpload != nil {
		return s.onUpload(m)
	}
	return nil
}

func (s *recordingSender) SendMediaFile(ctx context.Context, to string, f File) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentMessage{method: "file", to: to, caption: f.Caption, mime: f.MimeType})
	s.mu.Unlock()
	if s.onFile != nil {
		return s.onFile(f)
	}
	return nil
}

type memLog struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (l *memLog) AppendLogEntry(e models.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *memLog) statuses() []models.LogStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.LogStatus, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Status
	}
	return out
}

type countingRecorder struct {
	attempts map[string]int
	latency  []time.Duration
}

func (r *countingRecorder) RecordDeliveryAttempt(method string, ok bool) {
	if r.attempts == nil {
		r.attempts = map[string]int{}
	}
	key := method + ":error"
	if ok {
		key = method + ":ok"
	}
	r.attempts[key]++
}

func (r *countingRecorder) ObserveDeliveryLatency(mediaType string, d time.Duration) {
	r.latency = append(r.latency, d)
}

var errSend = errors.New("send failed")

func writeAsset(t *testing.T, dir, name string, size int) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
}

func TestDeliverTextOnly(t *testing.T) {
	sender := &recordingSender{}
	logs := &memLog{}
	p := NewPipeline(sender, logs)

	out := p.Deliver(context.Background(), Request{ContactID: "911", Text: "hello there"})
	if !out.Delivered || out.Method != MethodText || out.MediaType != models.MediaTypeText {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(sender.sent) != 1 || sender.sent[0].method != "text" || sender.sent[0].caption != "hello there" {
		t.Errorf("unexpected sends: %+v", sender.sent)
	}
	if got := logs.statuses(); len(got) != 1 || got[0] != models.LogStatusDelivered {
		t.Errorf("unexpected log statuses: %v", got)
	}
	if !logs.entries[0].FromBot {
		t.Error("expected delivered entry to be marked fromBot")
	}
}

func TestDeliverMissingVideoSendsFullCaptionAsText(t *testing.T) {
	sender := &recordingSender{}
	logs := &memLog{}
	p := NewPipeline(sender, logs, WithMediaDir(t.TempDir()))

	req := Request{
		ContactID:    "911",
		Text:         "full caption with every detail",
		ShortCaption: "short",
		MediaPath:    "videos/missing.mp4",
		MediaKind:    models.MediaTypeVideo,
	}
	out := p.Deliver(context.Background(), req)

	if !out.Delivered {
		t.Fatalf("expected delivery to succeed, got %+v", out)
	}
	if out.MediaType != models.MediaTypeText {
		t.Errorf("expected media type text, got %q", out.MediaType)
	}
	if !errors.Is(out.Skipped, ErrAssetMissing) {
		t.Errorf("expected ErrAssetMissing, got %v", out.Skipped)
	}
	if len(sender.sent) != 1 || sender.sent[0].method != "text" {
		t.Fatalf("expected exactly one text send, got %+v", sender.sent)
	}
	if sender.sent[0].caption != req.Text {
		t.Errorf("expected full caption, got %q", sender.sent[0].caption)
	}
	if len(logs.entries) != 1 || logs.entries[0].MediaType != models.MediaTypeText || logs.entries[0].Status != models.LogStatusDelivered {
		t.Errorf("unexpected log entries: %+v", logs.entries)
	}
}

func TestDeliverOversizedAssetSkipsMedia(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "big.mp4", 64)
	sender := &recordingSender{}
	p := NewPipeline(sender, &memLog{}, WithMediaDir(dir), WithSizeLimit(models.MediaTypeVideo, 32))

	out := p.Deliver(context.Background(), Request{ContactID: "911", Text: "caption", MediaPath: "big.mp4", MediaKind: models.MediaTypeVideo})
	if !errors.Is(out.Skipped, ErrAssetTooLarge) {
		t.Errorf("expected ErrAssetTooLarge, got %v", out.Skipped)
	}
	if out.Method != MethodTextFallback || len(sender.sent) != 1 || sender.sent[0].method != "text" {
		t.Errorf("expected text fallback only, got %+v / %+v", out, sender.sent)
	}
}

func TestDeliverUploadSucceeds(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "images/logo.jpg", 16)
	sender := &recordingSender{}
	p := NewPipeline(sender, &memLog{}, WithMediaDir(dir))

	out := p.Deliver(context.Background(), Request{ContactID: "911", Text: "caption", MediaPath: "images/logo.jpg"})
	if !out.Delivered || out.Method != MethodUpload || out.MediaType != models.MediaTypeImage {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	if len(got.data) != 16 || got.mime != "image/jpeg" || got.caption != "caption" {
		t.Errorf("unexpected upload: %+v", got)
	}
}

func TestDeliverFallbackOrder(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "intro.mp4", 16)
	sender := &recordingSender{
		onUpload: func(Media) error { return errSend },
		onFile: func(f File) error {
			if f.Caption == "short" {
				return nil
			}
			return errSend
		},
	}
	logs := &memLog{}
	rec := &countingRecorder{}
	p := NewPipeline(sender, logs, WithMediaDir(dir), WithRecorder(rec))

	out := p.Deliver(context.Background(), Request{
		ContactID: "911", Text: "long caption", ShortCaption: "short",
		MediaPath: "intro.mp4", MediaKind: models.MediaTypeVideo,
	})
	if !out.Delivered || out.Method != MethodFileShortCaption || out.MediaType != models.MediaTypeVideo {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	wantMethods := []Method{MethodUpload, MethodFile, MethodFileShortCaption}
	if len(out.Attempts) != len(wantMethods) {
		t.Fatalf("expected %d attempts, got %+v", len(wantMethods), out.Attempts)
	}
	for i, m := range wantMethods {
		if out.Attempts[i].Method != m {
			t.Errorf("attempt %d: expected %s, got %s", i, m, out.Attempts[i].Method)
		}
	}
	want := []models.LogStatus{models.LogStatusAttemptFailed, models.LogStatusAttemptFailed, models.LogStatusDelivered}
	got := logs.statuses()
	if len(got) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if rec.attempts["upload:error"] != 1 || rec.attempts["file:error"] != 1 || rec.attempts["file_short_caption:ok"] != 1 {
		t.Errorf("unexpected recorder counts: %v", rec.attempts)
	}
}

func TestDeliverWithoutShortCaptionSkipsThatStep(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "intro.mp4", 16)
	sender := &recordingSender{
		onUpload: func(Media) error { return errSend },
		onFile:   func(File) error { return errSend },
	}
	p := NewPipeline(sender, &memLog{}, WithMediaDir(dir))

	out := p.Deliver(context.Background(), Request{ContactID: "911", Text: "caption", MediaPath: "intro.mp4"})
	if out.Method != MethodTextFallback || len(out.Attempts) != 3 {
		t.Errorf("expected upload, file, text fallback; got %+v", out.Attempts)
	}
	if out.MediaType != models.MediaTypeText {
		t.Errorf("expected media type text, got %q", out.MediaType)
	}
}

func TestDeliverAllMethodsFail(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "intro.mp4", 16)
	sender := &recordingSender{
		onUpload: func(Media) error { return errSend },
		onFile:   func(File) error { return errSend },
		onText:   func(string) error { return errSend },
	}
	logs := &memLog{}
	p := NewPipeline(sender, logs, WithMediaDir(dir))

	out := p.Deliver(context.Background(), Request{ContactID: "911", Text: "caption", ShortCaption: "s", MediaPath: "intro.mp4"})
	if out.Delivered {
		t.Fatal("expected delivery to fail")
	}
	if !errors.Is(out.Err, errSend) {
		t.Errorf("expected joined send errors, got %v", out.Err)
	}
	if len(out.Attempts) != 4 {
		t.Errorf("expected 4 attempts, got %d", len(out.Attempts))
	}
	statuses := logs.statuses()
	if len(statuses) != 5 || statuses[4] != models.LogStatusFailed {
		t.Errorf("expected four attempt_failed entries and a failed entry, got %v", statuses)
	}
}

func TestDeliverRecoversTransportPanic(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "intro.mp4", 16)
	sender := &recordingSender{
		onUpload: func(Media) error { panic("encoder exploded") },
	}
	p := NewPipeline(sender, &memLog{}, WithMediaDir(dir))

	out := p.Deliver(context.Background(), Request{ContactID: "911", Text: "caption", MediaPath: "intro.mp4"})
	if !out.Delivered || out.Method != MethodFile {
		t.Fatalf("expected file method after panic, got %+v", out)
	}
	if !errors.Is(out.Attempts[0].Err, ErrTransportPanic) {
		t.Errorf("expected ErrTransportPanic, got %v", out.Attempts[0].Err)
	}
}

func TestDeliverLatencyFromRequestStart(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	start := clk.Now()
	clk.Advance(2 * time.Second) // queued behind the throttle
	sender := &recordingSender{onText: func(string) error {
		clk.Advance(time.Second)
		return nil
	}}
	logs := &memLog{}
	p := NewPipeline(sender, logs, WithClock(clk))

	out := p.Deliver(context.Background(), Request{ContactID: "911", Text: "hi", Start: start})
	if out.Latency != 3*time.Second {
		t.Errorf("expected 3s latency, got %v", out.Latency)
	}
	if logs.entries[0].ResponseTime != 3*time.Second {
		t.Errorf("expected logged response time 3s, got %v", logs.entries[0].ResponseTime)
	}
}

func TestDeliverEmptyRequest(t *testing.T) {
	sender := &recordingSender{}
	out := NewPipeline(sender, &memLog{}).Deliver(context.Background(), Request{ContactID: "911"})
	if out.Delivered || !errors.Is(out.Err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %+v", out)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no sends, got %+v", sender.sent)
	}
}

func TestDeliverUsesLabelForLog(t *testing.T) {
	logs := &memLog{}
	p := NewPipeline(&recordingSender{}, logs)
	p.Deliver(context.Background(), Request{ContactID: "911", Text: "long body", Label: "Language prompt", Language: models.LanguageHindi})
	if logs.entries[0].Text != "Language prompt" || logs.entries[0].Language != models.LanguageHindi {
		t.Errorf("unexpected entry: %+v", logs.entries[0])
	}
}
