package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rrens/meeting-assistant/internal/api/handler"
	customMiddleware "github.com/Rrens/meeting-assistant/internal/api/middleware"
	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/security"
)

// Dependencies are the services the HTTP surface is built on
type Dependencies struct {
	Bots     handler.BotController
	Live     handler.LiveSnapshots
	Meetings handler.MeetingReader
	Webhooks handler.WebhookQueue
	Realtime *handler.RealtimeHandler

	// RateLimiter is optional; without it requests are not limited
	RateLimiter customMiddleware.Limiter
	// Ready lists the dependencies checked by /ready
	Ready map[string]handler.Pinger
	// Gatherer backs /metrics when metrics are enabled
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	origins := cfg.Realtime.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", customMiddleware.UserIDHeader},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var jwtManager *security.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)
	}
	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)

	verifier := security.NewWebhookVerifier(cfg.Transcript.WebhookSecret)
	botHandler := handler.NewBotHandler(deps.Bots, deps.Live)
	meetingHandler := handler.NewMeetingHandler(deps.Meetings)
	webhookHandler := handler.NewWebhookHandler(cfg.Provider.Name, verifier, deps.Webhooks)

	if cfg.Metrics.Enabled && deps.Gatherer != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// long-lived, so outside the request timeout
	if deps.Realtime != nil {
		r.With(authMiddleware.Identify).Get("/ws", deps.Realtime.Serve)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

		r.Post("/webhooks/{provider}", webhookHandler.Receive)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health", handler.HealthCheck)
			r.Get("/ready", handler.ReadyCheck(deps.Ready))

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Authenticate)

				r.Route("/bots", func(r chi.Router) {
					r.With(limit(deps.RateLimiter)).Post("/", botHandler.Launch)
					r.Get("/current", botHandler.Current)
					r.Delete("/current", botHandler.DeleteCurrent)
					r.Get("/{botID}", botHandler.Get)
					r.Delete("/{botID}", botHandler.Delete)
				})

				r.Route("/meetings", func(r chi.Router) {
					r.Get("/", meetingHandler.List)
					r.Get("/{meetingID}", meetingHandler.Get)
				})
			})
		})
	})

	return r
}

func limit(limiter customMiddleware.Limiter) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return customMiddleware.NewRateLimitMiddleware(limiter).Limit
}
