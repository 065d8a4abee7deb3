// Package api provides the diagnostics HTTP server and the main run loop for FunnelPipe.
//
// Run wires the store, the chat transport, the delivery pipeline, the funnel
// orchestrator, the inbound dispatcher and the maintenance scheduler, then
// serves the diagnostics API until SIGINT or SIGTERM.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/flow"
	"github.com/BTreeMap/FunnelPipe/internal/messaging"
	"github.com/BTreeMap/FunnelPipe/internal/metrics"
	"github.com/BTreeMap/FunnelPipe/internal/scheduler"
	"github.com/BTreeMap/FunnelPipe/internal/store"
	"github.com/BTreeMap/FunnelPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/FunnelPipe/internal/whatsapp"
)

// Default configuration constants
const (
	DefaultAddr          = ":8080"
	DefaultPruneSchedule = "0 3 * * *"
	// DefaultLogRetention is the number of log entries kept by the prune job.
	DefaultLogRetention = 10000
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// PruneJobName identifies the log retention job.
	PruneJobName = "prune-logs"
)

// Transport selects the chat transport.
type Transport string

const (
	TransportWhatsApp Transport = "whatsapp"
	TransportTwilio   Transport = "twilio"
)

// Opts holds API server and run loop configuration.
type Opts struct {
	Addr          string
	Transport     Transport
	PruneSchedule string
	LogRetention  int
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTransport selects whatsmeow or Twilio.
func WithTransport(t Transport) Option {
	return func(o *Opts) { o.Transport = t }
}

// WithPruneSchedule sets the cron expression of the log retention job.
func WithPruneSchedule(expr string) Option {
	return func(o *Opts) { o.PruneSchedule = expr }
}

// WithLogRetention sets how many log entries the prune job keeps.
func WithLogRetention(n int) Option {
	return func(o *Opts) { o.LogRetention = n }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{
		Addr:          DefaultAddr,
		Transport:     TransportWhatsApp,
		PruneSchedule: DefaultPruneSchedule,
		LogRetention:  DefaultLogRetention,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Modules groups the per-module options passed to Run.
type Modules struct {
	WhatsApp []whatsapp.Option
	Twilio   []twiliowhatsapp.Option
	Store    []store.Option
	Delivery []delivery.Option
	Flow     []flow.Option
	API      []Option
}

// Run starts FunnelPipe and blocks until a shutdown signal is received.
func Run(mods Modules) error {
	cfg := applyOpts(mods.API)
	slog.Info("api.Run: starting", "addr", cfg.Addr, "transport", cfg.Transport)

	m := metrics.New()

	st, err := store.NewStore(mods.Store...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	svc, webhook, closeTransport, err := newTransport(cfg.Transport, mods)
	if err != nil {
		return err
	}
	defer closeTransport()

	pipeline := delivery.NewPipeline(svc, st, append(mods.Delivery, delivery.WithRecorder(m))...)
	orch := flow.NewOrchestrator(st, pipeline, append(mods.Flow, flow.WithRecorder(m))...)
	dispatcher := messaging.NewDispatcher(svc, orch, messaging.WithDedup(st), messaging.WithDuplicateRecorder(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	dispatcher.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(PruneJobName, cfg.PruneSchedule, pruneJob(st, cfg.LogRetention)); err != nil {
		return err
	}

	server := NewServer(orch, st, WithMetrics(m), WithJobs(sched), WithWebhook(webhook))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("api.Run: shutdown signal received")
	case err := <-errCh:
		slog.Error("api.Run: HTTP server failed", "error", err)
		stop()
		shutdownCore(svc, dispatcher, orch)
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("api.Run: HTTP server forced to shutdown", "error", err)
	}
	shutdownCore(svc, dispatcher, orch)
	slog.Info("api.Run: stopped")
	return nil
}

// shutdownCore stops inbound intake, waits for in-flight messages and stops timers.
func shutdownCore(svc messaging.Service, d *messaging.Dispatcher, orch *flow.Orchestrator) {
	if err := svc.Stop(); err != nil {
		slog.Warn("api.shutdownCore: messaging stop failed", "error", err)
	}
	d.Wait()
	orch.Shutdown()
}

// newTransport builds the messaging service. webhook is non-nil only for Twilio.
func newTransport(t Transport, mods Modules) (messaging.Service, http.HandlerFunc, func(), error) {
	switch t {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(mods.Twilio...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc.TwilioWebhookHandler, func() {}, nil
	case TransportWhatsApp, "":
		client, err := whatsapp.NewClient(mods.WhatsApp...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, client.Disconnect, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown transport %q", t)
	}
}

// pruneJob trims the delivery log to keep entries.
func pruneJob(st store.Store, keep int) func() {
	return func() {
		n, err := st.PruneLogEntries(keep)
		if err != nil {
			slog.Error("api.pruneJob: prune failed", "error", err)
			return
		}
		slog.Info("api.pruneJob: log pruned", "deleted", n, "keep", keep)
	}
}
