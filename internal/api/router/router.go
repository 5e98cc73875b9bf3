package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fisioflow/calsync/internal/http/handlers"
	httpmiddleware "github.com/fisioflow/calsync/internal/http/middleware"
	"github.com/fisioflow/calsync/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConnectHandler      *handlers.ConnectHandler
	AvailabilityHandler *handlers.AvailabilityHandler
	SyncHandler         *handlers.SyncHandler
	WebhookHandler      *handlers.WebhookHandler
	MetricsHandler      http.Handler
	UserJWTSecret       string
	CORSAllowedOrigins  []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (health, metrics, provider callbacks)
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WebhookHandler != nil {
			public.Post("/webhooks/calendar", cfg.WebhookHandler.HandleNotification)
		}
		// OAuth callback carries the owner id in state, no session required
		if cfg.ConnectHandler != nil {
			public.Get("/oauth/google/callback", cfg.ConnectHandler.Callback)
		}
	})

	// User-scoped API routes
	r.Route("/api/calendar", func(api chi.Router) {
		api.Use(httpmiddleware.UserJWT(cfg.UserJWTSecret))

		if cfg.ConnectHandler != nil {
			api.Get("/auth-url", cfg.ConnectHandler.AuthURL)
			api.Post("/connect", cfg.ConnectHandler.Connect)
			api.Delete("/connection", cfg.ConnectHandler.Disconnect)
			api.Get("/status", cfg.ConnectHandler.Status)
		}
		if cfg.AvailabilityHandler != nil {
			api.Get("/busy", cfg.AvailabilityHandler.Busy)
			api.Get("/slots", cfg.AvailabilityHandler.Slots)
		}
		if cfg.SyncHandler != nil {
			api.Post("/sync", cfg.SyncHandler.Sync)
			api.Post("/sync/batch", cfg.SyncHandler.SyncBatch)
			api.Post("/sync/enqueue", cfg.SyncHandler.Enqueue)
		}
	})

	return r
}
