package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/agenda-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/agenda-ai-platform/internal/http/middleware"
	"github.com/wolfman30/agenda-ai-platform/internal/messaging"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	MessagingHandler *messaging.Handler
	AdminHandler     *handlers.AdminHandler
	AdminAuthSecret  string
	MetricsHandler   http.Handler
	// RateLimiter guards the webhook and admin login; nil disables it.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.MessagingHandler == nil {
		panic("router: messaging handler required")
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	limited := func(h http.HandlerFunc) http.Handler {
		if cfg.RateLimiter == nil {
			return h
		}
		return httpmiddleware.RateLimit(cfg.RateLimiter)(h)
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.MessagingHandler.HealthCheck)
		public.Get("/webhook", cfg.MessagingHandler.Verify)
		public.Method(http.MethodPost, "/webhook", limited(cfg.MessagingHandler.Inbound))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.AdminHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Method(http.MethodPost, "/login", limited(cfg.AdminHandler.Login))

			admin.Group(func(protected chi.Router) {
				protected.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
				protected.Get("/sessions", cfg.AdminHandler.Sessions)
				protected.Route("/tenants/{tenantID}", func(tenant chi.Router) {
					tenant.Put("/human-mode/{phone}", cfg.AdminHandler.SetHumanMode)
					tenant.Delete("/human-mode/{phone}", cfg.AdminHandler.ClearHumanMode)
					tenant.Post("/blocked/{phone}", cfg.AdminHandler.Block)
					tenant.Delete("/blocked/{phone}", cfg.AdminHandler.Unblock)
					tenant.Get("/reservations/{phone}", cfg.AdminHandler.Reservations)
				})
			})
		})
	}

	return r
}
