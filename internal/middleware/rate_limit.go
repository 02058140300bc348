package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	"github.com/go-chi/httprate"
)

// RequireTier admits requests through tier, rejecting with 429 when the key's window is exhausted
func (s *Security) RequireTier(tier models.Tier, key KeyFunc) func(next http.Handler) http.Handler {
	if key == nil {
		key = KeyByAddress
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := s.ClientIP(r)
			d := s.gate.GuardCaller(tier, key(r, address), address)
			if !d.Allowed {
				pkghttp.WriteDenial(w, d)
				return
			}
			pkghttp.SetRateLimitHeaders(w, d)
			next.ServeHTTP(w, r)
		})
	}
}

// FloodGuard is a coarse per-address ceiling in front of the router. It uses a
// sliding window so bursts straddling a window boundary are caught as well.
func (s *Security) FloodGuard(requests int, window time.Duration) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return s.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			address := s.ClientIP(r)
			s.logger.Warn("request flood rejected", slog.String("client_ip", address))
			s.emit(r, models.EventSuspiciousActivity, models.SeverityHigh, address, "", models.EventDetails{
				"reason":   "request flood",
				"requests": requests,
				"window":   window.String(),
			})
			pkghttp.WriteTooManyRequests(w, "Too many requests, please try again later")
		}),
	)
}

// DiscoveryGuard charges every 404 and 405 answer against the apiDiscovery tier
// keyed by client address. Once exhausted, misses are answered with 429 and
// reported as suspicious.
func (s *Security) DiscoveryGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dw := &discoveryWriter{ResponseWriter: w, s: s, r: r}
		next.ServeHTTP(dw, r)
	})
}

type discoveryWriter struct {
	http.ResponseWriter
	s          *Security
	r          *http.Request
	wroteHead  bool
	suppressed bool
}

func (dw *discoveryWriter) WriteHeader(code int) {
	if dw.wroteHead {
		return
	}
	dw.wroteHead = true

	if code == http.StatusNotFound || code == http.StatusMethodNotAllowed {
		address := dw.s.ClientIP(dw.r)
		d := dw.s.gate.GuardCaller(models.TierAPIDiscovery, address, address)
		if !d.Allowed {
			dw.suppressed = true
			dw.s.emit(dw.r, models.EventSuspiciousActivity, models.SeverityHigh, address, requestIdentity(dw.r), models.EventDetails{
				"reason": "endpoint discovery",
				"status": code,
			})
			// the router may have set a content type for its own body
			dw.ResponseWriter.Header().Del("Content-Type")
			pkghttp.WriteDenial(dw.ResponseWriter, d)
			return
		}
	}
	dw.ResponseWriter.WriteHeader(code)
}

func (dw *discoveryWriter) Write(b []byte) (int, error) {
	if !dw.wroteHead {
		dw.WriteHeader(http.StatusOK)
	}
	if dw.suppressed {
		return len(b), nil
	}
	return dw.ResponseWriter.Write(b)
}

func (dw *discoveryWriter) Unwrap() http.ResponseWriter {
	return dw.ResponseWriter
}
