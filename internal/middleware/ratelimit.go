package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/geeky-vaiiib/BankEase/internal/apperr"
	"github.com/geeky-vaiiib/BankEase/internal/ratelimit"
)

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
	Scope() string
}

// RateLimitObserver is told about rejected requests.
type RateLimitObserver interface {
	RateLimited(scope string)
}

// RateLimit returns a middleware that limits requests per client IP and
// answers rejected requests with message. If the limiter itself fails the
// request is let through.
func RateLimit(limiter Limiter, message string, observer RateLimitObserver, logger *slog.Logger, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientIP(r)

			decision, err := limiter.Allow(r.Context(), client)
			if err != nil {
				logger.Warn("Rate limiter unavailable", "scope", limiter.Scope(), "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
				if observer != nil {
					observer.RateLimited(limiter.Scope())
				}
				logger.Warn("Rate limit exceeded", "scope", limiter.Scope(), "client", client)
				onError(w, r, apperr.New(apperr.KindRateLimited, message))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
