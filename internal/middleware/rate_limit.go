package middleware

import (
	"net/http"

	"github.com/calder-ross/bastion/internal/config"
	"github.com/go-chi/httprate"
)

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// This is the outer, per-IP throttle; the login service applies its own
// per-account limiter behind it.
func RateLimitByIP(cfg config.RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		cfg.MaxAttemptsPerWindow,
		cfg.Window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests. Please try again later."}`))
		}),
	)
}
