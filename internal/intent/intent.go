// Package intent classifies inbound chat text into funnel intents using
// keyword and phrase rules.
package intent

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/FunnelPipe/internal/models"
)

// Kind is the classification outcome.
type Kind int

const (
	KindNone Kind = iota
	KindTrigger
	KindLanguageChoice
	KindDemoChoice
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTrigger:
		return "trigger"
	case KindLanguageChoice:
		return "language_choice"
	case KindDemoChoice:
		return "demo_choice"
	default:
		return "unknown"
	}
}

// DemoAnswer is the contact's reply to the demo question.
type DemoAnswer int

const (
	DemoUnset DemoAnswer = iota
	DemoYes
	DemoNo
)

// String returns the name of the answer.
func (a DemoAnswer) String() string {
	switch a {
	case DemoYes:
		return "yes"
	case DemoNo:
		return "no"
	default:
		return "unset"
	}
}

// Result is a single tagged classification. Language is set only for
// KindLanguageChoice and Demo only for KindDemoChoice.
type Result struct {
	Kind     Kind
	Language models.Language
	Demo     DemoAnswer
}

// Context tells the classifier which part of the funnel the contact is in,
// which decides the order rules are evaluated in.
type Context int

const (
	// ContextIdle covers contacts with no session or a completed one.
	ContextIdle Context = iota
	ContextAwaitingLanguage
	ContextDeliveringContent
	ContextAwaitingDemo
)

// Classifier maps message text to an intent. It is safe for concurrent use.
type Classifier struct {
	triggerPhrases map[string]struct{}
	topics         []string
	actions        []string
	english        []string
	hindi          []string
	demoYes        []string
	demoNo         []string
}

// NewClassifier builds a Classifier from rules. Keywords are lower-cased and trimmed.
func NewClassifier(rules Rules) *Classifier {
	c := &Classifier{
		triggerPhrases: make(map[string]struct{}, len(rules.TriggerPhrases)),
		topics:         normalizeAll(rules.TopicKeywords),
		actions:        normalizeAll(rules.ActionKeywords),
		english:        normalizeAll(rules.EnglishMarkers),
		hindi:          normalizeAll(rules.HindiMarkers),
		demoYes:        normalizeAll(rules.DemoYesKeywords),
		demoNo:         normalizeAll(rules.DemoNoKeywords),
	}
	for _, p := range normalizeAll(rules.TriggerPhrases) {
		c.triggerPhrases[p] = struct{}{}
	}
	return c
}

// NewDefaultClassifier builds a Classifier from DefaultRules.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultRules())
}

// Classify returns exactly one intent for text given the conversation context.
// Empty text always classifies as KindNone.
func (c *Classifier) Classify(text string, ctx Context) Result {
	m := newMessage(text)
	if m.norm == "" {
		return Result{Kind: KindNone}
	}

	switch ctx {
	case ContextIdle:
		if c.isTrigger(m) {
			return Result{Kind: KindTrigger}
		}
	case ContextAwaitingDemo:
		// A curated opener always restarts. Demo keywords overlap the flexible
		// trigger topics ("info", "details"), so they beat that rule here.
		if c.isTriggerPhrase(m) {
			return Result{Kind: KindTrigger}
		}
		if answer, ok := c.demoChoice(m); ok {
			return Result{Kind: KindDemoChoice, Demo: answer}
		}
		if c.isTrigger(m) {
			return Result{Kind: KindTrigger}
		}
		if lang, ok := c.languageChoice(m); ok {
			return Result{Kind: KindLanguageChoice, Language: lang}
		}
	default:
		if c.isTrigger(m) {
			return Result{Kind: KindTrigger}
		}
		if lang, ok := c.languageChoice(m); ok {
			return Result{Kind: KindLanguageChoice, Language: lang}
		}
		if answer, ok := c.demoChoice(m); ok {
			return Result{Kind: KindDemoChoice, Demo: answer}
		}
	}
	return Result{Kind: KindNone}
}

// IsTrigger reports whether text opens a new session.
func (c *Classifier) IsTrigger(text string) bool {
	m := newMessage(text)
	return m.norm != "" && c.isTrigger(m)
}

func (c *Classifier) isTrigger(m message) bool {
	if c.isTriggerPhrase(m) {
		return true
	}
	return containsAny(m.norm, c.topics) && containsAny(m.norm, c.actions)
}

func (c *Classifier) isTriggerPhrase(m message) bool {
	_, ok := c.triggerPhrases[m.norm]
	return ok
}

// English markers are checked first, so text matching both languages resolves to English.
func (c *Classifier) languageChoice(m message) (models.Language, bool) {
	if _, ok := m.match(c.english); ok {
		return models.LanguageEnglish, true
	}
	if _, ok := m.match(c.hindi); ok {
		return models.LanguageHindi, true
	}
	return models.LanguageUnset, false
}

func (c *Classifier) demoChoice(m message) (DemoAnswer, bool) {
	yes, yesOK := m.match(c.demoYes)
	no, noOK := m.match(c.demoNo)
	switch {
	case yesOK && noOK:
		// A no-phrase that wraps the yes keyword ("not interested", "no demo")
		// is a negation of it.
		if strings.Contains(no, yes) && len(no) > len(yes) {
			return DemoNo, true
		}
		return DemoYes, true
	case yesOK:
		return DemoYes, true
	case noOK:
		return DemoNo, true
	}
	return DemoUnset, false
}

type message struct {
	norm   string
	tokens map[string]struct{}
}

func newMessage(text string) message {
	norm := strings.ToLower(strings.TrimSpace(text))
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(norm, isSeparator) {
		tokens[tok] = struct{}{}
	}
	return message{norm: norm, tokens: tokens}
}

// match returns the longest keyword found in the message. Short ASCII
// markers like "e", "1", "ok" or "hin" must appear as a whole word.
func (m message) match(keywords []string) (string, bool) {
	best, found := "", false
	for _, kw := range keywords {
		var hit bool
		if isShortMarker(kw) {
			_, hit = m.tokens[kw]
		} else {
			hit = strings.Contains(m.norm, kw)
		}
		if hit && len(kw) > len(best) {
			best, found = kw, true
		}
	}
	return best, found
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isShortMarker(kw string) bool {
	if len(kw) > 3 {
		return false
	}
	for i := 0; i < len(kw); i++ {
		if kw[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
