package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"secret.share/internal/auth"
	"secret.share/internal/logging"
	"secret.share/internal/ratelimit"
)

// SetupRouter builds the HTTP surface. limiter may be nil when rate limiting
// is disabled.
func SetupRouter(h *Handler, limiter *ratelimit.Limiter, tokens *auth.Issuer, log logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(CORS(h.config.Server.AllowedOrigins))
	r.Use(Caller(tokens, log))

	// Health
	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(limiter, ratelimit.ClassGeneral))
		r.Use(JSONOnly)

		r.Route("/secrets", func(r chi.Router) {
			r.Post("/", h.CreateSecret)
			r.Get("/", h.ListSecrets)
			r.Get("/{slug}/requirements", h.CheckRequirements)
			r.Post("/{slug}/reveal", h.RevealSecret)
			r.Patch("/{id}", h.UpdateSecret)
			r.Delete("/{id}", h.DeleteSecret)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Get("/me", h.Me)
			r.Delete("/me", h.DeleteAccount)
		})
	})

	// Frontend
	r.Get("/", h.Index)
	r.Get("/s/{slug}", h.RevealPage)

	return r
}
