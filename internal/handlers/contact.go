package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
)

// ContactRequest is a public contact-form submission
type ContactRequest struct {
	Name    string `json:"name" validate:"required,min=1,max=100"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Subject string `json:"subject" validate:"max=200"`
	Message string `json:"message" validate:"required,min=10,max=5000"`
}

// ContactHandler accepts contact-form submissions. Volume is bounded by the
// contact tier on the route; the handler only validates and records.
type ContactHandler struct {
	logger   *slog.Logger
	ipConfig *pkghttp.IPConfig
}

// NewContactHandler creates a new ContactHandler
func NewContactHandler(logger *slog.Logger, ipConfig *pkghttp.IPConfig) *ContactHandler {
	return &ContactHandler{logger: logger, ipConfig: ipConfig}
}

// Submit handles POST /api/contact
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.logger.Info("contact form submitted",
		slog.String("email", pkglogger.SanitizedEmail(strings.ToLower(req.Email))),
		slog.String("subject", req.Subject),
		slog.Int("message_length", len(req.Message)),
		slog.String("client_ip", pkghttp.ExtractClientIP(r, h.ipConfig)),
	)

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "Thanks, we will be in touch.",
	})
}
