package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bulwark/internal/auth"
	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/models"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
)

// Gate is the admission surface the middleware consults
type Gate interface {
	GuardCaller(tier models.Tier, key, address string) models.Decision
}

// KeyFunc picks the rate-limit key for a request given its client address
type KeyFunc func(r *http.Request, address string) string

// KeyByAddress keys requests by client address
func KeyByAddress(_ *http.Request, address string) string {
	return address
}

// KeyByUser keys authenticated requests by user ID and falls back to the client address
func KeyByUser(r *http.Request, address string) string {
	if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
		return "user:" + claims.UserID
	}
	return address
}

// Security bundles the request-path guards that share a gate, event sink and clock
type Security struct {
	gate     Gate
	events   pkglogger.EventEmitter
	clock    clock.Clock
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewSecurity creates a new Security middleware set
func NewSecurity(gate Gate, events pkglogger.EventEmitter, clk clock.Clock, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *Security {
	return &Security{
		gate:     gate,
		events:   events,
		clock:    clk,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// ClientIP returns the attributed client address for r
func (s *Security) ClientIP(r *http.Request) string {
	return pkghttp.ExtractClientIP(r, s.ipConfig)
}

func (s *Security) emit(r *http.Request, t models.EventType, severity models.Severity, address, identity string, details models.EventDetails) {
	if details == nil {
		details = models.EventDetails{}
	}
	details["method"] = r.Method
	details["path"] = r.URL.Path
	s.events.Emit(models.NewSecurityEvent(t, severity, address, identity, s.clock.Now(), details))
}

func requestIdentity(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.Email
	}
	return ""
}
