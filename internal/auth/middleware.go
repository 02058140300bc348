package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/models"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
)

// Guard authenticates requests and reports refusals as UNAUTHORIZED_ACCESS events
type Guard struct {
	tm       *TokenManager
	events   pkglogger.EventEmitter
	clock    clock.Clock
	ipConfig *pkghttp.IPConfig
}

// NewGuard creates a new Guard
func NewGuard(tm *TokenManager, events pkglogger.EventEmitter, clk clock.Clock, ipConfig *pkghttp.IPConfig) *Guard {
	return &Guard{tm: tm, events: events, clock: clk, ipConfig: ipConfig}
}

// Authenticate validates the bearer access token and injects its claims into the context
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			g.refuse(w, r, "", models.SeverityLow, "missing authorization header")
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
			g.refuse(w, r, "", models.SeverityMedium, "invalid authorization header format")
			return
		}

		claims, err := g.tm.ValidateToken(tokenString)
		if err != nil {
			g.refuse(w, r, "", models.SeverityMedium, "invalid or expired token")
			return
		}

		// Refresh tokens are only accepted by the refresh endpoint
		if claims.Type != models.TokenTypeAccess {
			g.refuse(w, r, claims.Email, models.SeverityMedium, "refresh token used for API access")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated callers whose token role differs from role.
// Must run after Authenticate.
func (g *Guard) RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				g.refuse(w, r, "", models.SeverityMedium, "missing authentication context")
				return
			}

			if claims.Role != role {
				g.emit(r, claims.Email, models.SeverityHigh, "insufficient role", map[string]any{
					"required_role": role,
					"role":          claims.Role,
					"user_id":       claims.UserID,
				})
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) refuse(w http.ResponseWriter, r *http.Request, identity string, severity models.Severity, reason string) {
	g.emit(r, identity, severity, reason, nil)
	pkghttp.WriteUnauthorized(w, reason)
}

func (g *Guard) emit(r *http.Request, identity string, severity models.Severity, reason string, extra map[string]any) {
	details := models.EventDetails{
		"reason": reason,
		"method": r.Method,
		"path":   r.URL.Path,
	}
	for k, v := range extra {
		details[k] = v
	}
	address := pkghttp.ExtractClientIP(r, g.ipConfig)
	g.events.Emit(models.NewSecurityEvent(models.EventUnauthorizedAccess, severity, address, identity, g.clock.Now(), details))
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
