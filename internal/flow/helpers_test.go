package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/models"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

const contact = "919876543210"

// memContacts is an in-memory ContactStore.
type memContacts struct {
	mu       sync.Mutex
	contacts map[string]models.Contact
	logs     []models.LogEntry
}

func newMemContacts() *memContacts {
	return &memContacts{contacts: make(map[string]models.Contact)}
}

func (m *memContacts) GetContact(id string) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memContacts) UpsertContact(id string, patch models.ContactPatch) (models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.contacts[id]
	c.ID = id
	patch.Apply(&c, epoch)
	m.contacts[id] = c
	return c, nil
}

func (m *memContacts) AppendLogEntry(e models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
	return nil
}

func (m *memContacts) received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.logs {
		if e.Status == models.LogStatusReceived {
			n++
		}
	}
	return n
}

func (m *memContacts) contact(id string) models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contacts[id]
}

// recordingDeliverer records requests and fails those matched by fail.
type recordingDeliverer struct {
	mu     sync.Mutex
	reqs   []delivery.Request
	fail   func(delivery.Request) bool
	before func(delivery.Request)
}

func (d *recordingDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Outcome {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	fail, before := d.fail, d.before
	d.mu.Unlock()

	if before != nil {
		before(req)
	}
	if fail != nil && fail(req) {
		return delivery.Outcome{Err: errors.New("transport down"), MediaType: models.MediaTypeText}
	}
	return delivery.Outcome{Delivered: true, Method: delivery.MethodText, MediaType: models.MediaTypeText}
}

// count returns how many requests had a label starting with prefix.
func (d *recordingDeliverer) count(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.reqs {
		if strings.HasPrefix(r.Label, prefix) {
			n++
		}
	}
	return n
}

func (d *recordingDeliverer) last() delivery.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reqs[len(d.reqs)-1]
}

func (d *recordingDeliverer) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reqs)
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	clk   *clock.Fake
	del   *recordingDeliverer
	store *memContacts
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clk := clock.NewFake(epoch)
	store := newMemContacts()
	del := &recordingDeliverer{}
	all := append([]Option{WithClock(clk), WithMinInterval(0)}, opts...)
	o := NewOrchestrator(store, del, all...)
	t.Cleanup(o.Shutdown)
	return &harness{t: t, o: o, clk: clk, del: del, store: store}
}

func (h *harness) send(text string) Result {
	h.t.Helper()
	res, err := h.o.HandleInboundMessage(context.Background(), models.InboundMessage{
		ID:          "msg",
		ContactID:   contact,
		ContactName: "Riya",
		Text:        text,
	})
	if err != nil {
		h.t.Fatalf("HandleInboundMessage(%q) returned error: %v", text, err)
	}
	return res
}

func (h *harness) stage() Stage {
	return h.o.GetSessionState(contact).Session.Stage
}

func (h *harness) live(kind TimerKind) bool {
	return h.o.Scheduler().IsLive(contact, kind)
}

func (h *harness) liveCount(kind TimerKind) int {
	n := 0
	for _, ti := range h.o.GetSessionState(contact).Timers {
		if ti.Kind == kind {
			n++
		}
	}
	return n
}

// toAwaitingDemo drives a fresh contact to AWAITING_DEMO in lang.
func (h *harness) toAwaitingDemo(choice string) {
	h.t.Helper()
	if res := h.send("can i get more info on this?"); res.Status != StatusHandled {
		h.t.Fatalf("trigger not handled: %+v", res)
	}
	h.clk.Advance(5 * time.Second)
	if res := h.send(choice); res.Status != StatusHandled || res.Stage != StageDeliveringContent {
		h.t.Fatalf("language choice not handled: %+v", res)
	}
	h.clk.Advance(DefaultDemoPromptDelay)
	if got := h.stage(); got != StageAwaitingDemo {
		h.t.Fatalf("expected AWAITING_DEMO after demo prompt, got %s", got)
	}
}
