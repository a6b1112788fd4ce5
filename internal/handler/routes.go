package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/msomdec/daily-report/internal/metrics"
	"github.com/msomdec/daily-report/internal/service"
)

// RouterDeps collects what NewRouter wires together. Limiter, Metrics and
// Health may be nil.
type RouterDeps struct {
	Auth     *service.AuthService
	Resolver IdentityResolver
	Limiter  service.RateLimiter
	Metrics  *metrics.Metrics
	Health   Pinger
}

// NewRouter sets up all HTTP routes and the global middleware stack.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(Authenticate(deps.Resolver, deps.Metrics))

	r.Get("/healthz", Readiness(deps.Health))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	auth := NewAuthHandler(deps.Auth)
	r.Route("/api/auth", func(ar chi.Router) {
		ar.Group(func(pub chi.Router) {
			if deps.Limiter != nil {
				pub.Use(RateLimit(deps.Limiter, deps.Metrics))
			}
			pub.Post("/register", auth.HandleRegister)
			pub.Post("/login", auth.HandleLogin)
			pub.Post("/forgot-password", auth.HandleForgotPassword)
			pub.Post("/reset-password", auth.HandleResetPassword)
		})

		ar.With(RequireIdentity).Get("/me", auth.HandleMe)
	})

	return r
}
