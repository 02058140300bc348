package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/bulwark/internal/auth"
	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/models"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
)

type guardFixture struct {
	guard  *auth.Guard
	tokens *auth.TokenManager
	events *pkglogger.MemoryWriter
}

func newGuard() guardFixture {
	clk := clock.NewManual(epoch)
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, 24*time.Hour, clk)
	events := pkglogger.NewMemoryWriter(10)
	return guardFixture{
		guard:  auth.NewGuard(tm, events, clk, pkghttp.NewIPConfig(nil)),
		tokens: tm,
		events: events,
	}
}

func okHandler(t *testing.T, reached *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		if auth.GetUserFromContext(r) == nil {
			t.Errorf("expected claims in context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	f := newGuard()
	reached := false

	req := httptest.NewRequest("GET", "/api/admin/security/status", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	w := httptest.NewRecorder()
	f.guard.Authenticate(okHandler(t, &reached)).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if reached {
		t.Errorf("handler must not run without a token")
	}

	events := f.events.OfType(models.EventUnauthorizedAccess)
	if len(events) != 1 {
		t.Fatalf("expected 1 UNAUTHORIZED_ACCESS event, got %d", len(events))
	}
	if events[0].Severity != models.SeverityLow {
		t.Errorf("expected LOW severity, got %s", events[0].Severity)
	}
	if events[0].SourceAddress != "203.0.113.5" {
		t.Errorf("expected source 203.0.113.5, got %s", events[0].SourceAddress)
	}
	if events[0].Details["path"] != "/api/admin/security/status" {
		t.Errorf("expected path detail, got %v", events[0].Details["path"])
	}
}

func TestAuthenticate_MalformedHeader(t *testing.T) {
	f := newGuard()
	reached := false

	for _, header := range []string{"Basic abc", "Bearer", "Bearer "} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		f.guard.Authenticate(okHandler(t, &reached)).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%q: expected 401, got %d", header, w.Code)
		}
	}

	for _, e := range f.events.Events() {
		if e.Severity != models.SeverityMedium {
			t.Errorf("expected MEDIUM severity, got %s", e.Severity)
		}
	}
}

func TestAuthenticate_ValidAccessToken(t *testing.T) {
	f := newGuard()
	reached := false

	pair, err := f.tokens.IssueTokens(testUser())
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	w := httptest.NewRecorder()
	f.guard.Authenticate(okHandler(t, &reached)).ServeHTTP(w, req)

	if !reached || w.Code != http.StatusNoContent {
		t.Errorf("expected handler to run, got status %d", w.Code)
	}
	if len(f.events.Events()) != 0 {
		t.Errorf("expected no events for a valid token")
	}
}

func TestAuthenticate_RejectsRefreshToken(t *testing.T) {
	f := newGuard()
	reached := false

	pair, _ := f.tokens.IssueTokens(testUser())

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	w := httptest.NewRecorder()
	f.guard.Authenticate(okHandler(t, &reached)).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized || reached {
		t.Errorf("refresh token must not authenticate API calls, got %d", w.Code)
	}
	events := f.events.OfType(models.EventUnauthorizedAccess)
	if len(events) != 1 || events[0].Identity != "admin@example.com" {
		t.Errorf("expected identity on refresh-token misuse event, got %+v", events)
	}
}

func TestRequireRole(t *testing.T) {
	f := newGuard()

	editor := testUser()
	editor.Role = models.RoleEditor

	tests := []struct {
		name   string
		user   *models.User
		status int
		events int
	}{
		{"admin allowed", testUser(), http.StatusNoContent, 0},
		{"editor forbidden", editor, http.StatusForbidden, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.events.Events())
			pair, _ := f.tokens.IssueTokens(tt.user)
			reached := false

			handler := f.guard.Authenticate(f.guard.RequireRole(models.RoleAdmin)(okHandler(t, &reached)))

			req := httptest.NewRequest("DELETE", "/api/admin/security/lockouts/x", nil)
			req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			added := f.events.Events()[before:]
			if len(added) != tt.events {
				t.Fatalf("expected %d events, got %d", tt.events, len(added))
			}
			if tt.events > 0 && added[0].Severity != models.SeverityHigh {
				t.Errorf("expected HIGH severity, got %s", added[0].Severity)
			}
		})
	}
}

func TestRequireRole_WithoutAuthenticate(t *testing.T) {
	f := newGuard()
	reached := false

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	f.guard.RequireRole(models.RoleAdmin)(okHandler(t, &reached)).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized || reached {
		t.Errorf("expected 401 without auth context, got %d", w.Code)
	}
}
