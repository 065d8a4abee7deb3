package messaging

import (
	"context"
	"sync"
	"testing"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/flow"
	"github.com/BTreeMap/FunnelPipe/internal/models"
	"github.com/BTreeMap/FunnelPipe/internal/store"
	"github.com/BTreeMap/FunnelPipe/internal/whatsapp"
)

type recordingHandler struct {
	mu   sync.Mutex
	msgs []models.InboundMessage
}

func (h *recordingHandler) AcceptInbound(msg models.InboundMessage) flow.Pending {
	return func(context.Context) (flow.Result, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.msgs = append(h.msgs, msg)
		return flow.Result{Status: flow.StatusHandled}, nil
	}
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

type outcomeCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *outcomeCounter) RecordInbound(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func TestDispatcherDrainsUntilStopped(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	h := &recordingHandler{}
	d := NewDispatcher(svc, h)
	d.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		svc.inbound.emit(models.InboundMessage{ID: id, ContactID: "919876543210", Text: "hi"})
	}
	svc.Stop()
	d.Wait()

	if h.count() != 3 {
		t.Errorf("handled %d messages, want 3", h.count())
	}
}

func TestDispatcherDropsDuplicates(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	h := &recordingHandler{}
	dedup := store.NewInMemoryStore()
	counter := &outcomeCounter{}
	d := NewDispatcher(svc, h, WithDedup(dedup), WithDuplicateRecorder(counter))

	ctx := context.Background()
	d.Dispatch(ctx, models.InboundMessage{ID: "msg-1", ContactID: "919876543210", Text: "hi"})
	d.Dispatch(ctx, models.InboundMessage{ID: "msg-1", ContactID: "919876543210", Text: "hi"})
	d.Dispatch(ctx, models.InboundMessage{ContactID: "919876543210", Text: "no id"})
	d.Wait()

	if h.count() != 2 {
		t.Errorf("handled %d messages, want 2", h.count())
	}
	if counter.outcomes["duplicate"] != 1 {
		t.Errorf("duplicate count = %d, want 1", counter.outcomes["duplicate"])
	}
	if dup, _ := dedup.IsDuplicate("msg-1"); !dup {
		t.Error("msg-1 should be recorded")
	}
}

func TestDispatcherStopsOnContextCancel(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	d := NewDispatcher(svc, &recordingHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()
	d.Wait()
}

type textDeliverer struct{}

func (textDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Outcome {
	return delivery.Outcome{Delivered: true, Method: delivery.MethodText, MediaType: models.MediaTypeText}
}

func TestDispatcherKeepsContactOrder(t *testing.T) {
	const contactID = "919876543210"
	for i := 0; i < 50; i++ {
		orch := flow.NewOrchestrator(store.NewInMemoryStore(), textDeliverer{}, flow.WithMinInterval(0))
		d := NewDispatcher(nil, orch)

		ctx := context.Background()
		d.Dispatch(ctx, models.InboundMessage{ContactID: contactID, Text: "get info"})
		d.Dispatch(ctx, models.InboundMessage{ContactID: contactID, Text: "english"})
		d.Wait()

		got := orch.GetSessionState(contactID).Session.Stage
		orch.Shutdown()
		if got != flow.StageDeliveringContent {
			t.Fatalf("run %d: stage = %s, want DELIVERING_CONTENT", i, got)
		}
	}
}
