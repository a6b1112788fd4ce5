package handler

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/msomdec/daily-report/internal/domain"
	"github.com/msomdec/daily-report/internal/metrics"
	"github.com/msomdec/daily-report/internal/service"
)

type contextKey string

const identityContextKey contextKey = "identity"

// IdentityResolver turns an Authorization header into an identity.
type IdentityResolver interface {
	Authenticate(ctx context.Context, authorization string) (domain.Identity, bool)
}

// IdentityObserver records how each request's identity was resolved.
type IdentityObserver interface {
	ObserveIdentity(outcome string)
}

// RateLimitObserver records requests rejected by the rate limiter.
type RateLimitObserver interface {
	ObserveRateLimited(route string)
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext extracts the authenticated identity from the request context.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(domain.Identity)
	return id, ok
}

// Authenticate resolves an optional identity from the bearer token and
// attaches it to the request context. It never rejects a request; anything
// that fails to resolve proceeds anonymously.
func Authenticate(resolver IdentityResolver, obs IdentityObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				observeIdentity(obs, metrics.IdentityAnonymous)
				next.ServeHTTP(w, r)
				return
			}

			id, ok := resolver.Authenticate(r.Context(), header)
			if !ok {
				observeIdentity(obs, metrics.IdentityRejected)
				next.ServeHTTP(w, r)
				return
			}

			observeIdentity(obs, metrics.IdentityAuthenticated)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func observeIdentity(obs IdentityObserver, outcome string) {
	if obs != nil {
		obs.ObserveIdentity(outcome)
	}
}

// RequireIdentity is middleware that protects routes requiring authentication.
// Returns 401 for requests Authenticate left anonymous.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "Not authenticated.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit rejects callers that exceed limiter with 429. Callers are keyed
// by remote IP and route.
func RateLimit(limiter service.RateLimiter, obs RateLimitObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r) + ":" + r.URL.Path
			if !limiter.Allow(r.Context(), key) {
				if obs != nil {
					obs.ObserveRateLimited(r.URL.Path)
				}
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

// SecurityHeaders sets conservative response headers for a JSON API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request with its status and latency.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
