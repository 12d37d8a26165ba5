package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/predictlabs/settled/internal/domain"
)

// rateLimitPrefix namespaces HTTP rate-limit counters in Redis.
const rateLimitPrefix = "ratelimit:http:"

// RateLimit caps each client to limit requests per window, keyed by client
// IP. Command endpoints in particular are cheap to spam; the sliding window
// in the limiter keeps bursts at the window boundary from doubling the
// effective rate.
//
// If the limiter itself errors the request is allowed through. Losing rate
// limiting during a Redis outage is preferable to refusing all traffic.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitPrefix + clientIP(r)

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				writeRateLimited(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// clientIP resolves the originating client address. Proxy headers take
// precedence over RemoteAddr since the service normally sits behind a load
// balancer that rewrites the connection source.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The first entry is the original client; later entries are
		// intermediate proxies.
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
