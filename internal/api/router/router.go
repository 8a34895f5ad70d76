package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-outreach/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dental-outreach/internal/http/middleware"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Campaigns       *handlers.CampaignHandler
	Webhooks        *handlers.WebhookHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler

	// WebhookLimiter throttles public webhook endpoints per client IP (optional).
	WebhookLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhooks != nil {
			public.Route("/webhooks", func(wh chi.Router) {
				if cfg.WebhookLimiter != nil {
					wh.Use(httpmiddleware.RateLimit(cfg.WebhookLimiter))
				}
				wh.Post("/inbound", cfg.Webhooks.Inbound)
				wh.Post("/twilio/sms", cfg.Webhooks.TwilioSMS)
			})
		}
	})

	// Operator API (protected by admin JWT)
	if cfg.Campaigns != nil {
		r.Route("/api/v1", func(api chi.Router) {
			api.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			api.Get("/campaigns", cfg.Campaigns.ListCampaigns)
			api.With(httpmiddleware.RequireScope("outreach:enroll")).
				Post("/campaigns/{campaignID}/enrollments", cfg.Campaigns.Enroll)
			api.Get("/prospects/{prospectID}", cfg.Campaigns.GetProspect)
			api.Get("/prospects/{prospectID}/appointment", cfg.Campaigns.GetAppointment)
			api.Get("/appointments", cfg.Campaigns.ListAppointments)
		})
	}

	return r
}
