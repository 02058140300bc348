package routes

import (
	"net/http"

	"github.com/BradenHooton/bulwark/internal/auth"
	"github.com/BradenHooton/bulwark/internal/handlers"
	"github.com/BradenHooton/bulwark/internal/middleware"
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers mounted under /api
type Handlers struct {
	Auth     *handlers.AuthHandler
	Contact  *handlers.ContactHandler
	Upload   *handlers.UploadHandler
	Security *handlers.SecurityHandler
	Health   http.HandlerFunc
}

// UploadLimits configures the upload guard
type UploadLimits struct {
	MaxBytes     int64
	AllowedTypes []string
}

// RegisterRoutes binds every route group to its rate-limit tier
func RegisterRoutes(router chi.Router, sec *middleware.Security, guard *auth.Guard, h Handlers, uploads UploadLimits) {
	router.With(sec.RequireTier(models.TierPublic, middleware.KeyByAddress)).Get("/health", h.Health)

	router.Group(func(r chi.Router) {
		r.Use(sec.RequireTier(models.TierGeneral, middleware.KeyByAddress))

		// Login consumes the auth tier itself, after the lockout check
		r.Post("/auth/login", h.Auth.Login)
		r.With(sec.RequireTier(models.TierAuth, middleware.KeyByAddress)).Post("/auth/refresh", h.Auth.RefreshToken)
		r.With(sec.RequireTier(models.TierContact, middleware.KeyByAddress)).Post("/contact", h.Contact.Submit)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(guard.Authenticate)

			r.With(sec.RequireTier(models.TierPassword, middleware.KeyByUser)).Post("/auth/password", h.Auth.ChangePassword)

			r.With(
				sec.RequireTier(models.TierUpload, middleware.KeyByUser),
				sec.UploadGuard(uploads.MaxBytes, uploads.AllowedTypes),
			).Post("/uploads", h.Upload.Upload)

			// Admin-only routes
			r.Route("/admin/security", func(r chi.Router) {
				r.Use(guard.RequireRole(models.RoleAdmin))
				r.Use(sec.RequireTier(models.TierAdmin, middleware.KeyByUser))

				r.Get("/status", h.Security.Status)
				r.Get("/events", h.Security.Events)
				r.Delete("/lockouts/{identity}", h.Security.Unlock)
				r.With(sec.RequireTier(models.TierSystem, middleware.KeyByUser)).Post("/sweep", h.Security.Sweep)
			})
		})
	})
}
