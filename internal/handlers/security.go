package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BradenHooton/bulwark/internal/auth"
	"github.com/BradenHooton/bulwark/internal/background"
	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/internal/services"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	"github.com/go-chi/chi/v5"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// SecurityGate is the admin surface of the access gate
type SecurityGate interface {
	Status() services.SecurityStatus
	Unlock(identity, actorID string) bool
}

// EventReader returns recently recorded security events, newest first
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]models.SecurityEvent, error)
}

// EventQuerier filters persisted security events
type EventQuerier interface {
	ListByType(ctx context.Context, t models.EventType, minSeverity models.Severity, limit int) ([]models.SecurityEvent, error)
}

// EventCounter reports daily event tallies
type EventCounter interface {
	Counts(ctx context.Context, day time.Time) (models.EventCounts, error)
}

// SweepRunner runs one sweep pass on demand
type SweepRunner interface {
	RunOnce(ctx context.Context) background.SweepResult
}

// SecurityHandler serves the abuse-prevention admin endpoints
type SecurityHandler struct {
	gate    SecurityGate
	recent  EventReader
	query   EventQuerier
	counter EventCounter
	sweeper SweepRunner
	clock   clock.Clock
	logger  *slog.Logger
}

// SecurityHandlerOption configures optional event backends
type SecurityHandlerOption func(*SecurityHandler)

// WithEventQuerier enables GET /events filtering
func WithEventQuerier(q EventQuerier) SecurityHandlerOption {
	return func(h *SecurityHandler) { h.query = q }
}

// WithEventCounter adds daily counts to the status response
func WithEventCounter(c EventCounter) SecurityHandlerOption {
	return func(h *SecurityHandler) { h.counter = c }
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(gate SecurityGate, recent EventReader, sweeper SweepRunner, clk clock.Clock, logger *slog.Logger, opts ...SecurityHandlerOption) *SecurityHandler {
	h := &SecurityHandler{
		gate:    gate,
		recent:  recent,
		sweeper: sweeper,
		clock:   clk,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StatusResponse is the admin dashboard payload
type StatusResponse struct {
	services.SecurityStatus
	RecentEvents []models.SecurityEvent `json:"recent_events"`
	Today        *models.EventCounts    `json:"today,omitempty"`
}

// UnlockResponse reports a manual lockout clear
type UnlockResponse struct {
	Identity string `json:"identity"`
	Cleared  bool   `json:"cleared"`
}

// Status handles GET /api/admin/security/status
func (h *SecurityHandler) Status(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultEventLimit)

	events, err := h.recent.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read recent security events", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve security status")
		return
	}
	if events == nil {
		events = []models.SecurityEvent{}
	}

	resp := StatusResponse{
		SecurityStatus: h.gate.Status(),
		RecentEvents:   events,
	}

	if h.counter != nil {
		counts, err := h.counter.Counts(r.Context(), h.clock.Now())
		if err != nil {
			// counts are decoration; the in-memory status is still accurate
			h.logger.Warn("failed to read security event counts", slog.Any("error", err))
		} else {
			resp.Today = &counts
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Events handles GET /api/admin/security/events?type=&min_severity=&limit=
func (h *SecurityHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.query == nil {
		pkghttp.WriteNotFound(w, "Event persistence is not enabled")
		return
	}

	q := r.URL.Query()
	eventType := models.EventType(q.Get("type"))

	minSeverity := models.SeverityLow
	if s := q.Get("min_severity"); s != "" {
		parsed, err := models.ParseSeverity(s)
		if err != nil {
			pkghttp.WriteBadRequest(w, "min_severity must be one of LOW, MEDIUM, HIGH, CRITICAL")
			return
		}
		minSeverity = parsed
	}

	events, err := h.query.ListByType(r.Context(), eventType, minSeverity, parseLimit(r, defaultEventLimit))
	if err != nil {
		h.logger.Error("failed to query security events", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve security events")
		return
	}
	if events == nil {
		events = []models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Unlock handles DELETE /api/admin/security/lockouts/{identity}
func (h *SecurityHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "identity"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "identity is not a valid path segment")
		return
	}
	identity := services.NormalizeIdentity(raw)
	if identity == "" {
		pkghttp.WriteBadRequest(w, "identity is required")
		return
	}

	actorID := ""
	if claims := auth.GetUserFromContext(r); claims != nil {
		actorID = claims.UserID
	}

	cleared := h.gate.Unlock(identity, actorID)
	pkghttp.WriteJSON(w, http.StatusOK, UnlockResponse{Identity: identity, Cleared: cleared})
}

// Sweep handles POST /api/admin/security/sweep
func (h *SecurityHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result := h.sweeper.RunOnce(r.Context())
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

func parseLimit(r *http.Request, fallback int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return min(n, maxEventLimit)
		}
	}
	return fallback
}
