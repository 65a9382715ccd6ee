package server

import (
	"crypto/subtle"
	"net"
	"net/http"

	"github.com/mailrelay/mailrelay-bot/internal/ratelimit"
)

// RateLimit returns middleware that rate-limits requests per client IP.
// When the limit is exceeded it responds 429 with a JSON error body.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				// RemoteAddr without a port, e.g. after RealIP
				ip = r.RemoteAddr
			}

			if !limiter.Allow(ip) {
				writeJSON(w, http.StatusTooManyRequests, jsonResponse{Error: "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireBotToken rejects requests whose x-bot-token header differs from token.
func RequireBotToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("x-bot-token")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, jsonResponse{Error: "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
