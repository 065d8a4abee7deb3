package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/intent"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// Error variables for better error handling and testability
var (
	ErrClosed    = errors.New("orchestrator is shut down")
	ErrStepPanic = errors.New("processing step panicked")
)

// ContactStore is the data collaborator used by the orchestrator.
type ContactStore interface {
	GetContact(id string) (*models.Contact, error)
	UpsertContact(id string, patch models.ContactPatch) (models.Contact, error)
	AppendLogEntry(entry models.LogEntry) error
}

// Deliverer sends content to a contact.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Outcome
}

// Recorder receives funnel instrumentation.
type Recorder interface {
	RecordTransition(stage string)
	RecordTimerFired(kind, outcome string)
	RecordInbound(outcome string)
}

// Status is the outcome of a processing step.
type Status int

const (
	StatusIgnored Status = iota
	StatusHandled
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIgnored:
		return "ignored"
	case StatusHandled:
		return "handled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result reports what a processing step did. Stage is the stage after the step.
type Result struct {
	Status Status `json:"status"`
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason,omitempty"`
}

// SessionState is the diagnostics view of one contact.
type SessionState struct {
	Session Session     `json:"session"`
	Timers  []TimerInfo `json:"timers"`
}

// Stats summarises live sessions and timers.
type Stats struct {
	ActiveSessions  int            `json:"active_sessions"`
	SessionsByStage map[string]int `json:"sessions_by_stage"`
	LiveTimers      map[string]int `json:"live_timers"`
}

// Orchestrator drives the funnel state machine for every contact.
type Orchestrator struct {
	store      ContactStore
	deliverer  Deliverer
	sessions   *SessionStore
	scheduler  *ReminderScheduler
	classifier *intent.Classifier
	content    Content
	cfg        Config
	clock      clock.Clock
	recorder   Recorder
	throttle   *throttle

	locksMu sync.Mutex
	locks   map[string]*contactLock

	generation atomic.Uint64
	closed     atomic.Bool
}

// NewOrchestrator creates an Orchestrator. store and deliverer are required.
func NewOrchestrator(store ContactStore, deliverer Deliverer, opts ...Option) *Orchestrator {
	o := Opts{Config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Classifier == nil {
		o.Classifier = intent.NewDefaultClassifier()
	}
	if o.Content.LanguagePrompt == "" {
		o.Content = DefaultContent()
	}
	if o.Recorder == nil {
		o.Recorder = noopRecorder{}
	}

	slog.Debug("Creating Orchestrator", "languageTimeout", o.Config.LanguageTimeout, "demoTimeout", o.Config.DemoTimeout,
		"demoPromptDelay", o.Config.DemoPromptDelay, "minInterval", o.Config.MinInterval, "acceptAfterReminder", o.Config.AcceptAfterReminder)
	return &Orchestrator{
		store:      store,
		deliverer:  deliverer,
		sessions:   NewSessionStore(),
		scheduler:  NewReminderScheduler(o.Clock),
		classifier: o.Classifier,
		content:    o.Content,
		cfg:        o.Config,
		clock:      o.Clock,
		recorder:   o.Recorder,
		throttle:   newThrottle(o.Clock, o.Config.MinInterval),
		locks:      make(map[string]*contactLock),
	}
}

// Scheduler exposes the timer table for diagnostics.
func (o *Orchestrator) Scheduler() *ReminderScheduler { return o.scheduler }

// Pending is an accepted inbound message waiting for its turn. Calling it
// blocks until the contact's earlier messages are done and the throttle
// interval has passed, then runs the processing step.
type Pending func(ctx context.Context) (Result, error)

// AcceptInbound logs msg and reserves its place in the contact's queue
// without blocking. Messages are processed in the order they were accepted.
// The returned Pending must be called exactly once.
func (o *Orchestrator) AcceptInbound(msg models.InboundMessage) Pending {
	if msg.ContactID == "" {
		return settled(Result{Status: StatusFailed, Reason: "empty contact id"}, models.ErrEmptyContactID)
	}
	if o.closed.Load() {
		return settled(Result{Status: StatusFailed, Reason: "shut down"}, ErrClosed)
	}
	if reason, skip := filterReason(msg); skip {
		o.recorder.RecordInbound("filtered")
		slog.Debug("Orchestrator.AcceptInbound: filtered", "contactID", msg.ContactID, "reason", reason)
		return settled(Result{Status: StatusIgnored, Stage: o.sessions.Get(msg.ContactID).Stage, Reason: reason}, nil)
	}

	arrived := o.clock.Now()
	name := o.recordArrival(msg, arrived)
	tk := o.throttle.reserve(msg.ContactID)

	return func(ctx context.Context) (res Result, err error) {
		if err := tk.wait(ctx); err != nil {
			o.recorder.RecordInbound("failed")
			return Result{Status: StatusFailed, Stage: o.sessions.Get(msg.ContactID).Stage, Reason: "cancelled while throttled"}, err
		}
		defer tk.release()

		if o.closed.Load() {
			return Result{Status: StatusFailed, Stage: o.sessions.Get(msg.ContactID).Stage, Reason: "shut down"}, ErrClosed
		}

		unlock := o.lockContact(msg.ContactID)
		defer unlock()

		defer func() {
			if r := recover(); r != nil {
				slog.Error("Orchestrator.AcceptInbound: panic recovered", "contactID", msg.ContactID, "panic", r)
				res = Result{Status: StatusFailed, Stage: o.sessions.Get(msg.ContactID).Stage, Reason: "internal error"}
				err = fmt.Errorf("%w: %v", ErrStepPanic, r)
			}
			o.recorder.RecordInbound(res.Status.String())
		}()

		res = o.process(ctx, msg, name, arrived)
		slog.Info("Orchestrator.AcceptInbound: processed", "contactID", msg.ContactID, "status", res.Status, "stage", res.Stage, "reason", res.Reason)
		return res, nil
	}
}

// HandleInboundMessage accepts msg and processes it on the calling goroutine.
func (o *Orchestrator) HandleInboundMessage(ctx context.Context, msg models.InboundMessage) (Result, error) {
	return o.AcceptInbound(msg)(ctx)
}

func settled(res Result, err error) Pending {
	return func(context.Context) (Result, error) { return res, err }
}

// filterReason reports why msg never reaches the classifier.
func filterReason(msg models.InboundMessage) (string, bool) {
	switch {
	case msg.FromMe:
		return "own message", true
	case msg.IsGroup:
		return "group chat", true
	case msg.Saved:
		return "saved contact", true
	}
	return "", false
}

func (o *Orchestrator) process(ctx context.Context, msg models.InboundMessage, name string, arrived time.Time) Result {
	sess := o.sessions.Get(msg.ContactID)
	cls := o.classifier.Classify(msg.Text, contextFor(sess.Stage))
	slog.Debug("Orchestrator.process: classified", "contactID", msg.ContactID, "stage", sess.Stage, "intent", cls.Kind)

	switch {
	case cls.Kind == intent.KindTrigger:
		return o.startSession(ctx, sess, name, arrived)
	case sess.Stage == StageAwaitingLanguage && cls.Kind == intent.KindLanguageChoice:
		return o.chooseLanguage(ctx, sess, name, cls.Language, arrived)
	case sess.Stage == StageAwaitingDemo && cls.Kind == intent.KindDemoChoice:
		return o.answerDemo(ctx, sess, name, cls.Demo, arrived)
	}
	return Result{Status: StatusIgnored, Stage: sess.Stage, Reason: fmt.Sprintf("%s not expected in %s", cls.Kind, sess.Stage)}
}

// startSession sends the language prompt and, once it is out, replaces the
// contact's session and timers with a fresh AWAITING_LANGUAGE session.
func (o *Orchestrator) startSession(ctx context.Context, prev Session, name string, start time.Time) Result {
	id := prev.ContactID
	out := o.deliverer.Deliver(ctx, delivery.Request{
		ContactID:   id,
		ContactName: name,
		Text:        o.content.LanguagePrompt,
		MediaPath:   o.content.LanguagePromptImage,
		MediaKind:   models.MediaTypeImage,
		Label:       "Language prompt",
		Start:       start,
	})
	if !out.Delivered {
		return Result{Status: StatusFailed, Stage: prev.Stage, Reason: "language prompt not delivered"}
	}

	if n := o.scheduler.CancelAll(id); n > 0 {
		slog.Debug("Orchestrator.startSession: discarded previous timers", "contactID", id, "count", n)
	}
	sess := newSession(id, o.generation.Add(1), o.clock.Now())
	o.sessions.Put(sess)
	o.scheduleTimer(id, LanguageReminder, o.cfg.LanguageTimeout, sess.Generation)
	o.recorder.RecordTransition(sess.Stage.String())

	slog.Info("Orchestrator.startSession: session started", "contactID", id, "previousStage", prev.Stage, "generation", sess.Generation)
	return Result{Status: StatusHandled, Stage: sess.Stage}
}

func (o *Orchestrator) chooseLanguage(ctx context.Context, sess Session, name string, lang models.Language, start time.Time) Result {
	id := sess.ContactID
	if !o.cfg.AcceptAfterReminder && !o.scheduler.IsLive(id, LanguageReminder) {
		return Result{Status: StatusIgnored, Stage: sess.Stage, Reason: "language reminder no longer live"}
	}
	next, err := sess.withLanguage(lang, o.clock.Now())
	if err != nil {
		return Result{Status: StatusFailed, Stage: sess.Stage, Reason: err.Error()}
	}

	if _, err := o.store.UpsertContact(id, models.ContactPatch{Language: &lang}); err != nil {
		slog.Warn("Orchestrator.chooseLanguage: failed to persist language", "contactID", id, "language", lang, "error", err)
	}

	out := o.deliverer.Deliver(ctx, delivery.Request{
		ContactID:    id,
		ContactName:  name,
		Text:         o.content.Intro.For(lang) + o.content.Footer,
		ShortCaption: o.content.IntroShort.For(lang) + o.content.Footer,
		MediaPath:    o.content.IntroVideo.For(lang),
		MediaKind:    models.MediaTypeVideo,
		Language:     lang,
		Label:        fmt.Sprintf("Video content sent (%s)", lang),
		Start:        start,
	})
	if !out.Delivered {
		// The language reminder stays armed as the recovery path.
		return Result{Status: StatusFailed, Stage: sess.Stage, Reason: "content not delivered"}
	}

	o.scheduler.Cancel(id, LanguageReminder)
	o.sessions.Put(next)
	o.scheduleTimer(id, DemoPrompt, o.cfg.DemoPromptDelay, next.Generation)
	o.recorder.RecordTransition(next.Stage.String())

	slog.Info("Orchestrator.chooseLanguage: content delivered", "contactID", id, "language", lang, "method", out.Method)
	return Result{Status: StatusHandled, Stage: next.Stage}
}

func (o *Orchestrator) answerDemo(ctx context.Context, sess Session, name string, answer intent.DemoAnswer, start time.Time) Result {
	id := sess.ContactID
	if !o.cfg.AcceptAfterReminder && !o.scheduler.IsLive(id, DemoReminder) {
		return Result{Status: StatusIgnored, Stage: sess.Stage, Reason: "demo reminder no longer live"}
	}
	next, err := sess.to(StageCompleted, o.clock.Now())
	if err != nil {
		return Result{Status: StatusFailed, Stage: sess.Stage, Reason: err.Error()}
	}

	lang := sess.Language
	yes := true
	var req delivery.Request
	var patch models.ContactPatch
	if answer == intent.DemoYes {
		patch.DemoRequested = &yes
		req = delivery.Request{
			Text:         o.content.DemoDescription.For(lang) + o.content.Footer,
			ShortCaption: o.content.DemoShort.For(lang) + o.content.Footer,
			MediaPath:    o.content.DemoVideo,
			MediaKind:    models.MediaTypeVideo,
			Label:        fmt.Sprintf("Demo video sent (%s)", lang),
		}
	} else {
		patch.ContactInfoShared = &yes
		req = delivery.Request{
			Text:      strings.TrimLeft(o.content.SpecialFooter, "\n"),
			MediaPath: o.content.ContactDetailsImage,
			MediaKind: models.MediaTypeImage,
			Label:     fmt.Sprintf("Contact details sent (%s)", lang),
		}
	}
	req.ContactID, req.ContactName, req.Language, req.Start = id, name, lang, start

	if _, err := o.store.UpsertContact(id, patch); err != nil {
		slog.Warn("Orchestrator.answerDemo: failed to persist demo answer", "contactID", id, "answer", answer, "error", err)
	}

	out := o.deliverer.Deliver(ctx, req)
	if !out.Delivered {
		return Result{Status: StatusFailed, Stage: sess.Stage, Reason: "demo answer not delivered"}
	}

	o.scheduler.Cancel(id, DemoReminder)
	o.sessions.Put(next)
	o.recorder.RecordTransition(next.Stage.String())

	slog.Info("Orchestrator.answerDemo: session completed", "contactID", id, "answer", answer, "method", out.Method)
	return Result{Status: StatusHandled, Stage: next.Stage}
}

func (o *Orchestrator) scheduleTimer(contactID string, kind TimerKind, delay time.Duration, generation uint64) {
	o.scheduler.Schedule(contactID, kind, delay, func(token uint64) {
		o.onTimer(contactID, kind, generation, token)
	})
}

// onTimer runs a timer callback under the contact lock. It acts only if the
// session generation is unchanged and it wins the claim on its entry.
func (o *Orchestrator) onTimer(contactID string, kind TimerKind, generation, token uint64) {
	unlock := o.lockContact(contactID)
	defer unlock()

	sess := o.sessions.Get(contactID)
	wantStage := map[TimerKind]Stage{
		LanguageReminder: StageAwaitingLanguage,
		DemoReminder:     StageAwaitingDemo,
		DemoPrompt:       StageDeliveringContent,
	}[kind]
	if sess.Generation != generation || sess.Stage != wantStage || !o.scheduler.Claim(contactID, kind, token) {
		slog.Debug("Orchestrator.onTimer: stale timer", "contactID", contactID, "kind", kind, "stage", sess.Stage, "generation", sess.Generation, "timerGeneration", generation)
		o.recorder.RecordTimerFired(kind.String(), "stale")
		return
	}

	name := o.displayName(contactID)
	ctx := context.Background()
	switch kind {
	case LanguageReminder:
		o.sendReminder(ctx, sess, name, kind, o.content.LanguageReminder, "Language reminder")
	case DemoReminder:
		o.sendReminder(ctx, sess, name, kind, o.content.DemoReminder.For(sess.Language), fmt.Sprintf("Demo reminder (%s)", sess.Language))
	case DemoPrompt:
		o.askDemo(ctx, sess, name)
	}
}

func (o *Orchestrator) sendReminder(ctx context.Context, sess Session, name string, kind TimerKind, text, label string) {
	out := o.deliverer.Deliver(ctx, delivery.Request{
		ContactID:   sess.ContactID,
		ContactName: name,
		Text:        text,
		Language:    sess.Language,
		Label:       label,
	})
	if !out.Delivered {
		o.recorder.RecordTimerFired(kind.String(), "failed")
		slog.Error("Orchestrator.sendReminder: reminder not delivered", "contactID", sess.ContactID, "kind", kind, "error", out.Err)
		return
	}
	o.recorder.RecordTimerFired(kind.String(), "sent")
	slog.Info("Orchestrator.sendReminder: reminder sent", "contactID", sess.ContactID, "kind", kind, "stage", sess.Stage)
}

func (o *Orchestrator) askDemo(ctx context.Context, sess Session, name string) {
	next, err := sess.to(StageAwaitingDemo, o.clock.Now())
	if err != nil {
		o.recorder.RecordTimerFired(DemoPrompt.String(), "failed")
		slog.Error("Orchestrator.askDemo: invalid session", "contactID", sess.ContactID, "error", err)
		return
	}
	out := o.deliverer.Deliver(ctx, delivery.Request{
		ContactID:   sess.ContactID,
		ContactName: name,
		Text:        o.content.DemoQuestion.For(sess.Language),
		Language:    sess.Language,
		Label:       fmt.Sprintf("Demo prompt (%s)", sess.Language),
	})
	if !out.Delivered {
		o.recorder.RecordTimerFired(DemoPrompt.String(), "failed")
		slog.Error("Orchestrator.askDemo: demo question not delivered", "contactID", sess.ContactID, "error", out.Err)
		return
	}
	o.sessions.Put(next)
	o.scheduleTimer(sess.ContactID, DemoReminder, o.cfg.DemoTimeout, next.Generation)
	o.recorder.RecordTimerFired(DemoPrompt.String(), "sent")
	o.recorder.RecordTransition(next.Stage.String())
	slog.Info("Orchestrator.askDemo: demo question sent", "contactID", sess.ContactID, "language", sess.Language)
}

// GetSessionState returns the session and live timers of contactID.
func (o *Orchestrator) GetSessionState(contactID string) SessionState {
	return SessionState{
		Session: o.sessions.Get(contactID),
		Timers:  o.scheduler.ListForContact(contactID),
	}
}

// RestartSession behaves as if contactID had sent a trigger phrase. It skips the throttle.
func (o *Orchestrator) RestartSession(ctx context.Context, contactID string) (res Result, err error) {
	if contactID == "" {
		return Result{Status: StatusFailed, Reason: "empty contact id"}, models.ErrEmptyContactID
	}
	if o.closed.Load() {
		return Result{Status: StatusFailed, Reason: "shut down"}, ErrClosed
	}
	unlock := o.lockContact(contactID)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Orchestrator.RestartSession: panic recovered", "contactID", contactID, "panic", r)
			res = Result{Status: StatusFailed, Stage: o.sessions.Get(contactID).Stage, Reason: "internal error"}
			err = fmt.Errorf("%w: %v", ErrStepPanic, r)
		}
	}()
	return o.startSession(ctx, o.sessions.Get(contactID), o.displayName(contactID), o.clock.Now()), nil
}

// ClearContact drops the session and timers of contactID. Persisted contact
// attributes are kept. It reports whether anything was removed.
func (o *Orchestrator) ClearContact(contactID string) bool {
	unlock := o.lockContact(contactID)
	defer unlock()
	timers := o.scheduler.CancelAll(contactID)
	existed := o.sessions.Delete(contactID)
	slog.Info("Orchestrator.ClearContact", "contactID", contactID, "timers", timers, "session", existed)
	return existed || timers > 0
}

// Stats returns live session and timer counts.
func (o *Orchestrator) Stats() Stats {
	st := Stats{SessionsByStage: map[string]int{}, LiveTimers: map[string]int{}}
	for _, sess := range o.sessions.List() {
		st.SessionsByStage[sess.Stage.String()]++
		if sess.IsActive() {
			st.ActiveSessions++
		}
	}
	for _, t := range o.scheduler.ListActive() {
		st.LiveTimers[t.Kind.String()]++
	}
	return st
}

// Shutdown stops all timers and refuses further messages.
func (o *Orchestrator) Shutdown() {
	if o.closed.Swap(true) {
		return
	}
	o.scheduler.Stop()
	slog.Info("Orchestrator shut down")
}

// recordArrival updates the contact and logs the inbound message. It returns
// the display name of the contact.
func (o *Orchestrator) recordArrival(msg models.InboundMessage, at time.Time) string {
	phone := msg.ContactID
	patch := models.ContactPatch{Phone: &phone, SeenAt: &at, CountMessage: true}
	if msg.ContactName != "" {
		patch.Name = &msg.ContactName
	}
	contact, err := o.store.UpsertContact(msg.ContactID, patch)
	if err != nil {
		slog.Warn("Orchestrator.recordArrival: failed to update contact", "contactID", msg.ContactID, "error", err)
		contact = models.Contact{ID: msg.ContactID, Name: msg.ContactName, Phone: phone}
	}
	name := contactName(contact)

	mediaType := msg.MediaType
	if mediaType == "" {
		mediaType = models.MediaTypeText
	}
	entry := models.LogEntry{
		ContactID:   msg.ContactID,
		ContactName: name,
		Text:        msg.Text,
		MediaType:   mediaType,
		Language:    contact.Language,
		Status:      models.LogStatusReceived,
		Timestamp:   at,
	}
	if err := o.store.AppendLogEntry(entry); err != nil {
		slog.Warn("Orchestrator.recordArrival: failed to log message", "contactID", msg.ContactID, "error", err)
	}
	return name
}

func (o *Orchestrator) displayName(contactID string) string {
	contact, err := o.store.GetContact(contactID)
	if err != nil || contact == nil {
		return contactID
	}
	return contactName(*contact)
}

func contactName(c models.Contact) string {
	if c.Name != "" {
		return c.Name
	}
	if c.Phone != "" {
		return c.Phone
	}
	return c.ID
}

// contactLock is a per-contact mutex shared by everyone currently holding or
// waiting for it.
type contactLock struct {
	mu   sync.Mutex
	refs int
}

// lockContact locks contactID. The entry is dropped once no one holds or
// waits for it.
func (o *Orchestrator) lockContact(contactID string) func() {
	o.locksMu.Lock()
	l, ok := o.locks[contactID]
	if !ok {
		l = &contactLock{}
		o.locks[contactID] = l
	}
	l.refs++
	o.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, contactID)
		}
		o.locksMu.Unlock()
	}
}

func contextFor(stage Stage) intent.Context {
	switch stage {
	case StageAwaitingLanguage:
		return intent.ContextAwaitingLanguage
	case StageDeliveringContent:
		return intent.ContextDeliveringContent
	case StageAwaitingDemo:
		return intent.ContextAwaitingDemo
	default:
		return intent.ContextIdle
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(string)         {}
func (noopRecorder) RecordTimerFired(string, string) {}
func (noopRecorder) RecordInbound(string)            {}
