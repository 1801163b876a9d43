package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/api/middleware"
	"github.com/eldtechnologies/courier/internal/config"
	"github.com/eldtechnologies/courier/internal/handlers"
	"github.com/eldtechnologies/courier/internal/store"
	"github.com/eldtechnologies/courier/internal/ws"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil
// in development; rate limiting and search are skipped without it.
func NewRouter(cfg *config.Config, logger zerolog.Logger, db store.DataStore, redisStore *store.RedisStore, hub *ws.Hub, gateway *ws.Gateway) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (clients connect from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	secret := []byte(cfg.JWTSecret)
	h := handlers.NewHandler(db, redisStore, secret, logger)
	authmw := middleware.NewAuthMiddleware(secret)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth)

		r.Get("/users", h.ListUsers)
		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations", h.ListConversations)
		r.Get("/messages/{conversationID}", h.GetMessages)
		r.Get("/find", h.Find)

		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			claims := middleware.GetClaims(r.Context())
			if claims == nil {
				http.Error(w, `{"error":"token required"}`, http.StatusUnauthorized)
				return
			}
			ws.ServeWS(hub, gateway, logger, w, r, claims)
		})
	})

	return r
}
