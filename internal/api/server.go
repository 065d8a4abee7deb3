package api

import (
	"context"
	"net/http"

	"github.com/BTreeMap/FunnelPipe/internal/flow"
	"github.com/BTreeMap/FunnelPipe/internal/scheduler"
	"github.com/BTreeMap/FunnelPipe/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Funnel is the orchestrator surface used by the diagnostics API.
type Funnel interface {
	GetSessionState(contactID string) flow.SessionState
	RestartSession(ctx context.Context, contactID string) (flow.Result, error)
	ClearContact(contactID string) bool
	Stats() flow.Stats
}

// MetricsHandler serves the Prometheus exposition.
type MetricsHandler interface {
	Handler() http.Handler
}

// JobLister lists maintenance jobs.
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics mounts /metrics.
func WithMetrics(m MetricsHandler) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithJobs reports scheduled jobs on /health.
func WithJobs(j JobLister) ServerOption {
	return func(s *Server) { s.jobs = j }
}

// WithWebhook mounts the Twilio webhook. A nil handler leaves it unmounted.
func WithWebhook(h http.HandlerFunc) ServerOption {
	return func(s *Server) { s.webhook = h }
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	funnel  Funnel
	store   store.Store
	metrics MetricsHandler
	jobs    JobLister
	webhook http.HandlerFunc
}

// NewServer creates a diagnostics server.
func NewServer(funnel Funnel, st store.Store, opts ...ServerOption) *Server {
	s := &Server{funnel: funnel, store: st}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Get("/stats", s.statsHandler)
	r.Get("/logs", s.logsHandler)

	r.Route("/sessions/{contactID}", func(r chi.Router) {
		r.Get("/", s.getSessionHandler)
		r.Delete("/", s.clearSessionHandler)
		r.Post("/restart", s.restartSessionHandler)
	})
	r.Route("/contacts", func(r chi.Router) {
		r.Get("/", s.listContactsHandler)
		r.Get("/{contactID}", s.getContactHandler)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.webhook != nil {
		r.Post("/twilio/webhook", s.webhook)
	}
	return r
}
