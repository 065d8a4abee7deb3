package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/FunnelPipe/internal/flow"
	"github.com/BTreeMap/FunnelPipe/internal/models"
	"github.com/BTreeMap/FunnelPipe/internal/store"
)

// InboundHandler accepts inbound messages. AcceptInbound must not block; the
// returned Pending does the work and keeps each contact's messages in the
// order they were accepted.
type InboundHandler interface {
	AcceptInbound(msg models.InboundMessage) flow.Pending
}

// DuplicateRecorder counts messages dropped as duplicates.
type DuplicateRecorder interface {
	RecordInbound(outcome string)
}

// DispatcherOpts configures a Dispatcher.
type DispatcherOpts struct {
	Dedup    store.DedupRepo
	Recorder DuplicateRecorder
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithDedup drops messages whose ID was already recorded in repo.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(o *DispatcherOpts) { o.Dedup = repo }
}

// WithDuplicateRecorder counts dropped duplicates.
func WithDuplicateRecorder(r DuplicateRecorder) DispatcherOption {
	return func(o *DispatcherOpts) { o.Recorder = r }
}

// Dispatcher drains a service's inbound channel. Each message is accepted on
// the drain goroutine and then processed on its own goroutine.
type Dispatcher struct {
	svc     Service
	handler InboundHandler
	opts    DispatcherOpts

	wg   sync.WaitGroup // in-flight messages
	loop sync.WaitGroup // drain goroutine
}

// NewDispatcher creates a dispatcher for svc.
func NewDispatcher(svc Service, handler InboundHandler, opts ...DispatcherOption) *Dispatcher {
	var cfg DispatcherOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{svc: svc, handler: handler, opts: cfg}
}

// Start drains Inbound() until it is closed or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.loop.Add(1)
	go func() {
		defer d.loop.Done()
		in := d.svc.Inbound()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("Dispatcher.Start: context done, stopping")
				return
			case msg, ok := <-in:
				if !ok {
					slog.Debug("Dispatcher.Start: inbound channel closed, stopping")
					return
				}
				d.Dispatch(ctx, msg)
			}
		}
	}()
}

// Dispatch handles msg asynchronously unless it is a duplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.InboundMessage) {
	if d.opts.Dedup != nil && msg.ID != "" {
		isNew, err := d.opts.Dedup.RecordInbound(msg.ID, msg.ContactID)
		if err != nil {
			slog.Error("Dispatcher.Dispatch: dedup check failed, processing anyway", "contactID", msg.ContactID, "id", msg.ID, "error", err)
		} else if !isNew {
			slog.Info("Dispatcher.Dispatch: duplicate message dropped", "contactID", msg.ContactID, "id", msg.ID)
			if d.opts.Recorder != nil {
				d.opts.Recorder.RecordInbound("duplicate")
			}
			return
		}
	}

	run := d.handler.AcceptInbound(msg)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res, err := run(ctx)
		if err != nil {
			slog.Warn("Dispatcher.Dispatch: message failed", "contactID", msg.ContactID, "id", msg.ID, "reason", res.Reason, "error", err)
		}
		if d.opts.Dedup != nil && msg.ID != "" {
			if err := d.opts.Dedup.MarkProcessed(msg.ID); err != nil {
				slog.Warn("Dispatcher.Dispatch: mark processed failed", "id", msg.ID, "error", err)
			}
		}
	}()
}

// Wait blocks until the drain loop has exited and every dispatched message
// has been handled.
func (d *Dispatcher) Wait() {
	d.loop.Wait()
	d.wg.Wait()
}
