package flow

import (
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/intent"
)

// Default timings.
const (
	DefaultLanguageTimeout = 30 * time.Second
	DefaultDemoTimeout     = 30 * time.Second
	DefaultDemoPromptDelay = 20 * time.Second
	DefaultMinInterval     = 10 * time.Second
)

// Config holds the funnel timings and answer policy.
type Config struct {
	LanguageTimeout time.Duration
	DemoTimeout     time.Duration
	DemoPromptDelay time.Duration
	// MinInterval is the minimum gap between processing two messages of one contact.
	MinInterval time.Duration
	// AcceptAfterReminder lets a valid answer advance the session after the
	// single reminder has already fired.
	AcceptAfterReminder bool
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		LanguageTimeout: DefaultLanguageTimeout,
		DemoTimeout:     DefaultDemoTimeout,
		DemoPromptDelay: DefaultDemoPromptDelay,
		MinInterval:     DefaultMinInterval,
	}
}

// Opts holds configuration for an Orchestrator.
type Opts struct {
	Config     Config
	Clock      clock.Clock
	Classifier *intent.Classifier
	Content    Content
	Recorder   Recorder
}

// Option configures an Orchestrator.
type Option func(*Opts)

// WithConfig replaces the timing configuration.
func WithConfig(cfg Config) Option {
	return func(o *Opts) { o.Config = cfg }
}

// WithLanguageTimeout sets the delay before the language reminder.
func WithLanguageTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Config.LanguageTimeout = d }
}

// WithDemoTimeout sets the delay before the demo reminder.
func WithDemoTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Config.DemoTimeout = d }
}

// WithDemoPromptDelay sets the delay between content delivery and the demo question.
func WithDemoPromptDelay(d time.Duration) Option {
	return func(o *Opts) { o.Config.DemoPromptDelay = d }
}

// WithMinInterval sets the per-contact processing interval.
func WithMinInterval(d time.Duration) Option {
	return func(o *Opts) { o.Config.MinInterval = d }
}

// WithAcceptAfterReminder toggles accepting answers once the reminder fired.
func WithAcceptAfterReminder(accept bool) Option {
	return func(o *Opts) { o.Config.AcceptAfterReminder = accept }
}

// WithClock sets the clock driving timers and the throttle.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithClassifier replaces the intent classifier.
func WithClassifier(c *intent.Classifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// WithContent replaces the funnel copy.
func WithContent(c Content) Option {
	return func(o *Opts) { o.Content = c }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(o *Opts) { o.Recorder = r }
}
