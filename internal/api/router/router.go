package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harborline/crm-platform/internal/http/handlers"
	httpmiddleware "github.com/harborline/crm-platform/internal/http/middleware"
	"github.com/harborline/crm-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	TelephonyWebhooks  *handlers.TelephonyWebhookHandler
	AccountingWebhooks *handlers.AccountingWebhookHandler
	SyncHandler        *handlers.SyncHandler
	LiveCalls          *handlers.LiveCallsHandler
	HealthHandler      *handlers.HealthHandler
	MetricsHandler     http.Handler
	AdminAuthSecret    string
	CORSAllowedOrigins []string
	// WebhookRateLimit caps webhook deliveries per second per IP; 0 disables.
	WebhookRateLimit float64
	WebhookRateBurst int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

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

	// Public endpoints: webhooks, health, metrics, live queue.
	r.Group(func(public chi.Router) {
		if cfg.HealthHandler != nil {
			public.Get("/health", cfg.HealthHandler.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		public.Group(func(webhooks chi.Router) {
			if cfg.WebhookRateLimit > 0 {
				webhooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
			}
			if cfg.TelephonyWebhooks != nil {
				webhooks.Post("/webhooks/telephony", cfg.TelephonyWebhooks.HandleEvents)
			}
			if cfg.AccountingWebhooks != nil {
				webhooks.Get("/webhooks/accounting", cfg.AccountingWebhooks.HandleChallenge)
				webhooks.Post("/webhooks/accounting", cfg.AccountingWebhooks.HandleEvents)
			}
		})

		if cfg.LiveCalls != nil {
			public.Get("/live-calls", cfg.LiveCalls.List)
			public.Get("/live-calls/stream", cfg.LiveCalls.Stream)
		}
	})

	// Sync triggers fan out to external APIs; admin JWT required.
	if cfg.SyncHandler != nil {
		r.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminOnly(cfg.AdminAuthSecret))
			admin.Post("/sync/accounting", cfg.SyncHandler.RunAccounting)
			admin.Post("/sync/telephony", cfg.SyncHandler.RunTelephony)
		})
	}

	return r
}
