// Package server exposes the HTTP surface: the inbound email webhook, the Telegram
// webhook, a health check and the admin REST API.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type jsonResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func validBearerToken(headerValue, expected string) bool {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(headerValue, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, prefix))
	return token != "" && token == expected
}

// captureError reports err to Sentry tagged with the route
func captureError(r *http.Request, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "http")
		scope.SetTag("route", r.Method+" "+r.URL.Path)
		sentry.CaptureException(err)
	})
}
