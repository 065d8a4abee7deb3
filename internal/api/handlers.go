// Package api provides HTTP handlers for FunnelPipe endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/FunnelPipe/internal/flow"
	"github.com/BTreeMap/FunnelPipe/internal/models"
	"github.com/go-chi/chi/v5"
)

// MaxLogLimit caps the limit query parameter of /logs.
const MaxLogLimit = 1000

// DefaultLogLimit is used when /logs has no limit parameter.
const DefaultLogLimit = 100

// contactIDParam returns the normalized contactID path parameter, writing a
// 400 response and returning "" when it is unusable.
func contactIDParam(w http.ResponseWriter, r *http.Request) string {
	raw := chi.URLParam(r, "contactID")
	id := models.NormalizeContactID(raw)
	if id == "" {
		slog.Warn("Server.contactIDParam: invalid contact id", "raw", raw, "path", r.URL.Path)
		writeError(w, http.StatusBadRequest, "invalid contact id")
	}
	return id
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	result := map[string]any{"sessions": s.funnel.Stats().ActiveSessions}
	if s.jobs != nil {
		result["jobs"] = s.jobs.Jobs()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := contactIDParam(w, r)
	if id == "" {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.funnel.GetSessionState(id)))
}

func (s *Server) restartSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := contactIDParam(w, r)
	if id == "" {
		return
	}
	res, err := s.funnel.RestartSession(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, flow.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		slog.Error("Server.restartSessionHandler: restart failed", "contactID", id, "error", err)
		writeError(w, status, res.Reason)
		return
	}
	slog.Info("Server.restartSessionHandler: session restarted", "contactID", id, "stage", res.Stage)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session restarted", res))
}

func (s *Server) clearSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := contactIDParam(w, r)
	if id == "" {
		return
	}
	if !s.funnel.ClearContact(id) {
		writeError(w, http.StatusNotFound, "no session for contact")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session cleared", nil))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.Stats()
	if err != nil {
		slog.Error("Server.statsHandler: store stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"store":    stored,
		"sessions": s.funnel.Stats(),
	}))
}

func (s *Server) listContactsHandler(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.ListContacts()
	if err != nil {
		slog.Error("Server.listContactsHandler: list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list contacts")
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(contacts))
}

func (s *Server) getContactHandler(w http.ResponseWriter, r *http.Request) {
	id := contactIDParam(w, r)
	if id == "" {
		return
	}
	c, err := s.store.GetContact(id)
	if err != nil {
		slog.Error("Server.getContactHandler: get failed", "contactID", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load contact")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(c))
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.LogFilter{Limit: DefaultLogLimit}
	if raw := r.URL.Query().Get("contact"); raw != "" {
		filter.ContactID = models.NormalizeContactID(raw)
		if filter.ContactID == "" {
			writeError(w, http.StatusBadRequest, "invalid contact id")
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, MaxLogLimit)
	}
	entries, err := s.store.ListLogEntries(filter)
	if err != nil {
		slog.Error("Server.logsHandler: list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list log entries")
		return
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}
