package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mailrelay/mailrelay-bot/internal/ratelimit"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	Webhook         *WebhookHandler
	Admin           *AdminHandler
	Limiter         *ratelimit.Limiter
	BotToken        string       // x-bot-token for the admin API
	TelegramWebhook http.Handler // nil in long polling mode
	TrustProxy      bool         // take the client IP from X-Forwarded-For / X-Real-IP
	Now             func() time.Time
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()

	// proxy headers are client-controlled unless a trusted proxy sets them
	if deps.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": deps.Now().UTC().Format(time.RFC3339),
		})
	})

	if deps.TelegramWebhook != nil {
		r.Post("/telegram-webhook", deps.TelegramWebhook.ServeHTTP)
	}

	// Mail worker ingress (rate limited, optional bearer)
	r.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(RateLimit(deps.Limiter))
		}
		r.Post("/email-webhook", deps.Webhook.HandleEmail)
	})

	// Admin API
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireBotToken(deps.BotToken))

		r.Get("/user", deps.Admin.HandleGetUser)
		r.Post("/user", deps.Admin.HandleUpsertUser)
		r.Get("/user/approved", deps.Admin.HandleUserApproved)
		r.Post("/user/approve", deps.Admin.HandleApprove)
		r.Post("/user/revoke", deps.Admin.HandleRevoke)
		r.Get("/users", deps.Admin.HandleListUsers)
		r.Get("/users/approved", deps.Admin.HandleListApproved)

		r.Get("/email-account", deps.Admin.HandleGetAccount)
		r.Post("/email-account", deps.Admin.HandleUpsertAccount)
		r.Get("/email-account/by-email", deps.Admin.HandleAccountByEmail)
		r.Post("/email-log", deps.Admin.HandleAppendLog)
		r.Get("/email-logs", deps.Admin.HandleListLogs)

		r.Post("/broadcast", deps.Admin.HandleRecordBroadcast)
		r.Post("/broadcast/send", deps.Admin.HandleSendBroadcast)

		r.Get("/settings", deps.Admin.HandleListSettings)
		r.Post("/settings", deps.Admin.HandleSetSetting)
		r.Get("/stats", deps.Admin.HandleStats)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "Not found"})
	})

	return r
}
