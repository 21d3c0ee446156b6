package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/chatrelay-backend/internal/config"
	"github.com/AnshRaj112/chatrelay-backend/internal/handlers"
	"github.com/AnshRaj112/chatrelay-backend/internal/middleware"
	"github.com/AnshRaj112/chatrelay-backend/internal/services"
	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

// Dependencies is everything the router needs.
type Dependencies struct {
	Config    *config.Config
	Logger    *logger.Logger
	Ingestion *services.IngestionService
	Hub       *services.Hub
	Fanout    services.Fanout
	Redis     *redis.Client // optional
}

// NewRouter builds the middleware stack and registers every route.
func NewRouter(d Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.CORS(d.Config.AllowedOrigins))

	// Production: security headers + per-IP token buckets.
	// Non-production: Redis fixed window, skipped when Redis is absent.
	if d.Config.IsProduction() {
		limiter := middleware.NewIPRateLimiter(d.Config.RateLimitRequests, d.Config.RateLimitWindow, middleware.ExemptPaths)
		for _, mw := range middleware.ProductionSecurity(limiter) {
			r.Use(mw)
		}
	} else {
		r.Use(middleware.RedisRateLimit(d.Redis, d.Config.RateLimitRequests, d.Config.RateLimitWindow, middleware.ExemptPaths, d.Logger))
	}

	SetupRoutes(r, d)
	return r
}

func SetupRoutes(r chi.Router, d Dependencies) {
	health := handlers.NewHealthHandler(d.Ingestion)
	webhook := handlers.NewWebhookHandler(d.Ingestion, d.Logger, d.Config.MaxBodyBytes)
	messages := handlers.NewMessageHandler(d.Ingestion, d.Logger, d.Config.MaxBodyBytes)
	ws := handlers.NewWSHandler(d.Hub, d.Fanout, d.Logger).AllowOrigins(d.Config.AllowedOrigins)

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if d.Config.RequestTimeout > 0 {
			r.Use(chimw.Timeout(d.Config.RequestTimeout))
		}

		// Upstream webhook receiver
		r.Post("/api/webhook", webhook.Message)
		r.Post("/api/webhook/status", webhook.Status)

		// Conversation query API
		r.Route("/api/messages", func(r chi.Router) {
			r.Get("/conversations", messages.ListConversations)
			r.Get("/conversations/{wa_id}", messages.GetConversation)
			r.Put("/conversations/{wa_id}/read", messages.MarkRead)
			r.Group(func(r chi.Router) {
				if d.Config.SendRateLimit > 0 {
					r.Use(middleware.SendRateLimit(d.Config.SendRateLimit, time.Minute))
				}
				r.Post("/send", messages.Send)
			})
		})
	})

	// WebSocket gateway; no timeout since the connection is long-lived
	r.Get("/ws", ws.ServeWS)
}
