//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bulwark/internal/auth"
	"github.com/BradenHooton/bulwark/internal/background"
	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bulwark/internal/middleware"
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/internal/routes"
	"github.com/BradenHooton/bulwark/internal/services"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// StackOptions tunes the policy of a TestStack
type StackOptions struct {
	Lockout services.LockoutConfig
	Tiers   map[models.Tier]services.TierConfig
}

// TestStack is the full HTTP stack backed by a real database and a manual clock
type TestStack struct {
	Server  *httptest.Server
	Clock   *clock.Manual
	Events  *pkglogger.MemoryWriter
	Gate    *services.AccessGate
	Sweeper *background.Sweeper
	Repos   Repositories
}

// NewTestStack wires the application the way cmd/api does, with events
// written synchronously to memory and Postgres
func NewTestStack(t *testing.T, db *TestDB, opts StackOptions) *TestStack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewManual(testEpoch)
	repos := InitializeRepositories(db.DB)

	recent := pkglogger.NewMemoryWriter(200)
	sink := pkglogger.NewSecuritySink(
		[]pkglogger.EventWriter{recent, repos.Events},
		pkglogger.WithFallbackLogger(logger),
	)

	lockout := opts.Lockout
	if lockout.Threshold == 0 {
		lockout = services.DefaultLockoutConfig()
	}
	limiter, err := services.NewRateLimitRegistry(opts.Tiers, clk, sink, nil, logger)
	require.NoError(t, err)
	tracker, err := services.NewAttemptTracker(lockout, clk, sink, nil)
	require.NoError(t, err)
	gate := services.NewAccessGate(tracker, limiter, logger)

	sweeper := background.NewSweeper(tracker, limiter, repos.Events, nil, clk, background.SweeperConfig{
		Interval:       time.Hour,
		Staleness:      time.Hour,
		EventRetention: 30 * 24 * time.Hour,
	}, logger)

	ipConfig := pkghttp.NewIPConfig(nil)
	tokenManager := auth.NewTokenManager("integration-test-secret-at-least-32-bytes", 15*time.Minute, 24*time.Hour, clk)
	guard := auth.NewGuard(tokenManager, sink, clk, ipConfig)
	verifier := services.NewPasswordVerifier(repos.Users, logger)
	authService := services.NewAuthService(gate, verifier, tokenManager, repos.Users, logger)
	security := middlewareCustom.NewSecurity(gate, sink, clk, ipConfig, logger)

	h := routes.Handlers{
		Auth:    handlers.NewAuthHandler(authService, ipConfig),
		Contact: handlers.NewContactHandler(logger, ipConfig),
		Upload:  handlers.NewUploadHandler(security),
		Security: handlers.NewSecurityHandler(gate, repos.Events, sweeper, clk, logger,
			handlers.WithEventQuerier(repos.Events)),
		Health: func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		},
	}

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders("test"))
	router.Use(middlewareCustom.SecureLogger(logger, clk, ipConfig))
	router.Use(chiMiddleware.Recoverer)
	router.Use(security.DiscoveryGuard)
	router.Route("/api", func(r chi.Router) {
		routes.RegisterRoutes(r, security, guard, h, routes.UploadLimits{
			MaxBytes:     1 << 20,
			AllowedTypes: []string{"image/png", "text/plain"},
		})
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestStack{
		Server:  server,
		Clock:   clk,
		Events:  recent,
		Gate:    gate,
		Sweeper: sweeper,
		Repos:   repos,
	}
}

// DoJSON sends body as JSON with an optional bearer token
func (s *TestStack) DoJSON(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.Server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// Login posts credentials and returns the response
func (s *TestStack) Login(t *testing.T, email, password string) *http.Response {
	t.Helper()
	return s.DoJSON(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
}

// DecodeJSON decodes the response body into target
func DecodeJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}
