package middleware_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/bulwark/internal/auth"
	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/middleware"
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/internal/services"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	security *middleware.Security
	clock    *clock.Manual
	events   *pkglogger.MemoryWriter
}

func newFixture(t *testing.T, tiers map[models.Tier]services.TierConfig) fixture {
	t.Helper()
	clk := clock.NewManual(epoch)
	events := pkglogger.NewMemoryWriter(1000)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := services.NewRateLimitRegistry(tiers, clk, events, nil, logger)
	require.NoError(t, err)
	tracker, err := services.NewAttemptTracker(services.DefaultLockoutConfig(), clk, events, nil)
	require.NoError(t, err)
	gate := services.NewAccessGate(tracker, registry, logger)

	return fixture{
		security: middleware.NewSecurity(gate, events, clk, pkghttp.NewIPConfig([]string{"10.0.0.0/8"}), logger),
		clock:    clk,
		events:   events,
	}
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func get(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRequireTier_DeniesAfterLimit(t *testing.T) {
	f := newFixture(t, map[models.Tier]services.TierConfig{
		models.TierContact: {Window: time.Hour, MaxRequests: 3},
	})
	h := f.security.RequireTier(models.TierContact, middleware.KeyByAddress)(http.HandlerFunc(ok))

	for i := 0; i < 3; i++ {
		w := get(h, "/api/contact", "203.0.113.5:1000")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(2-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	f.clock.Advance(20 * time.Minute)
	w := get(h, "/api/contact", "203.0.113.5:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2400", w.Header().Get("Retry-After"))

	// another client has its own window
	assert.Equal(t, http.StatusOK, get(h, "/api/contact", "203.0.113.6:1000").Code)

	events := f.events.OfType(models.EventRateLimitExceeded)
	require.Len(t, events, 1)
	assert.Equal(t, "203.0.113.5", events[0].SourceAddress)
	assert.Equal(t, "contact", events[0].Details["tier"])
}

func TestRequireTier_KeyByUser(t *testing.T) {
	f := newFixture(t, map[models.Tier]services.TierConfig{
		models.TierAdmin: {Window: time.Minute, MaxRequests: 1},
	})
	h := f.security.RequireTier(models.TierAdmin, middleware.KeyByUser)(http.HandlerFunc(ok))

	call := func(userID string) int {
		req := httptest.NewRequest("GET", "/api/admin/security/status", nil)
		req.RemoteAddr = "203.0.113.5:1000"
		claims := &models.TokenClaims{UserID: userID, Email: userID + "@example.com"}
		req = req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("u1"))
	assert.Equal(t, http.StatusOK, call("u2"))
	assert.Equal(t, http.StatusTooManyRequests, call("u1"))

	events := f.events.OfType(models.EventRateLimitExceeded)
	require.Len(t, events, 1)
	assert.Equal(t, "user:u1", events[0].Identity)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
}

func TestRequireTier_UsesForwardedAddressFromTrustedProxy(t *testing.T) {
	f := newFixture(t, map[models.Tier]services.TierConfig{
		models.TierPublic: {Window: time.Minute, MaxRequests: 1},
	})
	h := f.security.RequireTier(models.TierPublic, nil)(http.HandlerFunc(ok))

	send := func(client string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.2:443"
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
}

func TestDiscoveryGuard_ThrottlesMisses(t *testing.T) {
	f := newFixture(t, map[models.Tier]services.TierConfig{
		models.TierAPIDiscovery: {Window: 5 * time.Minute, MaxRequests: 2},
	})

	r := chi.NewRouter()
	r.Use(f.security.DiscoveryGuard)
	r.Get("/api/health", ok)

	for i := 0; i < 2; i++ {
		w := get(r, "/api/wp-admin", "203.0.113.9:1000")
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	w := get(r, "/api/.env", "203.0.113.9:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotContains(t, w.Body.String(), "404")

	// hits are never charged
	assert.Equal(t, http.StatusOK, get(r, "/api/health", "203.0.113.9:1000").Code)

	suspicious := f.events.OfType(models.EventSuspiciousActivity)
	require.Len(t, suspicious, 1)
	assert.Equal(t, models.SeverityHigh, suspicious[0].Severity)
	assert.Equal(t, "/api/.env", suspicious[0].Details["path"])
}

func TestDiscoveryGuard_CountsMethodNotAllowed(t *testing.T) {
	f := newFixture(t, map[models.Tier]services.TierConfig{
		models.TierAPIDiscovery: {Window: 5 * time.Minute, MaxRequests: 1},
	})

	r := chi.NewRouter()
	r.Use(f.security.DiscoveryGuard)
	r.Get("/api/health", ok)

	send := func() int {
		req := httptest.NewRequest("DELETE", "/api/health", nil)
		req.RemoteAddr = "203.0.113.9:1000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusMethodNotAllowed, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestFloodGuard(t *testing.T) {
	f := newFixture(t, nil)
	h := f.security.FloodGuard(2, time.Minute)(http.HandlerFunc(ok))

	assert.Equal(t, http.StatusOK, get(h, "/", "203.0.113.7:1").Code)
	assert.Equal(t, http.StatusOK, get(h, "/", "203.0.113.7:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "/", "203.0.113.7:1").Code)

	events := f.events.OfType(models.EventSuspiciousActivity)
	require.Len(t, events, 1)
	assert.Equal(t, "request flood", events[0].Details["reason"])
}

func TestUploadGuard(t *testing.T) {
	f := newFixture(t, nil)
	h := f.security.UploadGuard(16, []string{"image/png", "application/pdf"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			pkghttp.WriteRequestTooLarge(w, "too large")
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	tests := []struct {
		name        string
		body        string
		contentType string
		chunked     bool
		status      int
		rejected    bool
	}{
		{"allowed", "small", "image/png", false, http.StatusCreated, false},
		{"parameters ignored", "small", "application/pdf; name=a.pdf", false, http.StatusCreated, false},
		{"too large", strings.Repeat("x", 17), "image/png", false, http.StatusRequestEntityTooLarge, true},
		{"wrong type", "small", "application/x-msdownload", false, http.StatusUnsupportedMediaType, true},
		{"missing type", "small", "", false, http.StatusUnsupportedMediaType, true},
		{"undeclared length capped", strings.Repeat("x", 32), "image/png", true, http.StatusRequestEntityTooLarge, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.events.OfType(models.EventFileUploadRejected))

			req := httptest.NewRequest("POST", "/api/uploads", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.chunked {
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			after := len(f.events.OfType(models.EventFileUploadRejected))
			if tt.rejected {
				assert.Equal(t, before+1, after)
			} else {
				assert.Equal(t, before, after)
			}
		})
	}
}
