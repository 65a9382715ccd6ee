package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/broadcast"
	"github.com/mailrelay/mailrelay-bot/internal/parser"
	"github.com/mailrelay/mailrelay-bot/internal/settings"
	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

const (
	defaultLogsLimit  = 10
	adminMaxBodyBytes = 64 * 1024
)

// Broadcaster sends an announcement to every approved user
type Broadcaster interface {
	Send(ctx context.Context, text string, sentBy int64) (*broadcast.Result, error)
}

// AdminHandler serves the admin REST API
type AdminHandler struct {
	store     store.Store
	access    *access.Service
	settings  *settings.Service
	broadcast Broadcaster
	logger    *slog.Logger
}

// AdminDeps dependencies for creating the admin handler
type AdminDeps struct {
	Store       store.Store
	Access      *access.Service
	Settings    *settings.Service
	Broadcaster Broadcaster // nil disables /broadcast/send
	Logger      *slog.Logger
}

// NewAdminHandler creates the admin API handler
func NewAdminHandler(deps AdminDeps) *AdminHandler {
	return &AdminHandler{
		store:     deps.Store,
		access:    deps.Access,
		settings:  deps.Settings,
		broadcast: deps.Broadcaster,
		logger:    deps.Logger.With("component", "admin_api"),
	}
}

// decode reads a bounded JSON body into v, writing a 400 on failure
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, adminMaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return false
	}
	return true
}

// telegramIDParam parses ?telegram_id=, writing a 400 on failure
func telegramIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("telegram_id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "telegram_id is required"})
		return 0, false
	}
	return id, true
}

// internalError logs, reports and answers 500
func (h *AdminHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("admin request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	captureError(r, err)
	writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: err.Error()})
}

// HandleGetUser handles GET /user?telegram_id=
func (h *AdminHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := telegramIDParam(w, r)
	if !ok {
		return
	}
	user, err := h.access.Check(r.Context(), id)
	if errors.Is(err, access.ErrUnknownUser) {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// HandleUpsertUser handles POST /user
func (h *AdminHandler) HandleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TelegramID   int64  `json:"telegram_id"`
		Username     string `json:"username"`
		FirstName    string `json:"first_name"`
		LastName     string `json:"last_name"`
		LanguageCode string `json:"language_code"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.TelegramID == 0 {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "telegram_id is required"})
		return
	}

	_, err := h.store.GetUserByTelegramID(r.Context(), body.TelegramID)
	created := errors.Is(err, store.ErrNotFound)
	if err != nil && !created {
		h.internalError(w, r, err)
		return
	}

	user, err := h.access.Register(r.Context(), &models.User{
		TelegramID:   body.TelegramID,
		Username:     body.Username,
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		LanguageCode: body.LanguageCode,
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "created": created})
}

// HandleUserApproved handles GET /user/approved?telegram_id=
func (h *AdminHandler) HandleUserApproved(w http.ResponseWriter, r *http.Request) {
	id, ok := telegramIDParam(w, r)
	if !ok {
		return
	}
	user, err := h.access.Check(r.Context(), id)
	if err != nil && !errors.Is(err, access.ErrUnknownUser) {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": h.access.IsApproved(user)})
}

// HandleApprove handles POST /user/approve. Missing days approves without expiry.
func (h *AdminHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TelegramID int64 `json:"telegram_id"`
		Days       int   `json:"days"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Days < 0 {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "days must not be negative"})
		return
	}

	user, err := h.access.Approve(r.Context(), body.TelegramID, body.Days)
	if errors.Is(err, access.ErrUnknownUser) {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "User not found"})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.logger.Info("user approved", "telegram_id", body.TelegramID, "days", body.Days)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// HandleRevoke handles POST /user/revoke
func (h *AdminHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TelegramID int64 `json:"telegram_id"`
	}
	if !decode(w, r, &body) {
		return
	}

	user, err := h.access.Revoke(r.Context(), body.TelegramID)
	if errors.Is(err, access.ErrUnknownUser) {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "User not found"})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.logger.Info("user revoked", "telegram_id", body.TelegramID)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// HandleListUsers handles GET /users with an optional ?status= filter
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	var (
		users []*models.User
		err   error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.UserStatus(raw)
		if !status.Valid() {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid status"})
			return
		}
		users, err = h.store.ListUsersByStatus(r.Context(), status)
	} else {
		users, err = h.store.ListUsers(r.Context(), 0)
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": nonNil(users)})
}

// HandleListApproved handles GET /users/approved
func (h *AdminHandler) HandleListApproved(w http.ResponseWriter, r *http.Request) {
	users, err := h.access.ListApproved(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": nonNil(users)})
}

// HandleGetAccount handles GET /email-account?telegram_id=
func (h *AdminHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := telegramIDParam(w, r)
	if !ok {
		return
	}
	user, err := h.store.GetUserByTelegramID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"account": nil})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	acc, err := h.store.GetActiveAccountByUser(r.Context(), user.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"account": nil})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acc})
}

// HandleUpsertAccount handles POST /email-account. Absent fields are left unchanged.
func (h *AdminHandler) HandleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TelegramID       int64   `json:"telegram_id"`
		Email            *string `json:"email"`
		AutoReplyEnabled *bool   `json:"auto_reply_enabled"`
		AutoReplyMessage *string `json:"auto_reply_message"`
		IsActive         *bool   `json:"is_active"`
	}
	if !decode(w, r, &body) {
		return
	}
	ctx := r.Context()

	user, err := h.store.GetUserByTelegramID(ctx, body.TelegramID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "User not found"})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	var acc *models.EmailAccount
	if body.Email != nil {
		addr := parser.NormalizeAddress(*body.Email)
		if !parser.ValidEmail(addr) {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid email"})
			return
		}
		acc, err = h.store.SetAccountEmail(ctx, user.ID, addr)
		if errors.Is(err, store.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, jsonResponse{Error: "email already bound to another user"})
			return
		}
	} else {
		acc, err = h.store.GetActiveAccountByUser(ctx, user.ID)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "email is required for a new account"})
			return
		}
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	if body.AutoReplyEnabled != nil || body.AutoReplyMessage != nil {
		enabled, message := acc.AutoReplyEnabled, acc.AutoReplyMessage
		if body.AutoReplyEnabled != nil {
			enabled = *body.AutoReplyEnabled
		}
		if body.AutoReplyMessage != nil {
			message = *body.AutoReplyMessage
		}
		if err := h.store.UpdateAutoReply(ctx, acc.ID, enabled, message); err != nil {
			h.internalError(w, r, err)
			return
		}
		acc.AutoReplyEnabled, acc.AutoReplyMessage = enabled, message
	}
	if body.IsActive != nil && *body.IsActive != acc.IsActive {
		if err := h.store.SetAccountActive(ctx, acc.ID, *body.IsActive); err != nil {
			h.internalError(w, r, err)
			return
		}
		acc.IsActive = *body.IsActive
	}

	writeJSON(w, http.StatusOK, map[string]any{"account": acc})
}

// HandleAccountByEmail handles GET /email-account/by-email?email=
func (h *AdminHandler) HandleAccountByEmail(w http.ResponseWriter, r *http.Request) {
	addr := parser.NormalizeAddress(r.URL.Query().Get("email"))
	if addr == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "email is required"})
		return
	}

	acc, err := h.store.GetActiveAccountByEmail(r.Context(), addr)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"account": nil})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	user, err := h.store.GetUserByID(r.Context(), acc.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": models.AccountWithUser{Account: acc, User: user}})
}

// HandleAppendLog handles POST /email-log
func (h *AdminHandler) HandleAppendLog(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EmailAccountID int64  `json:"email_account_id"`
		FromEmail      string `json:"from_email"`
		Subject        string `json:"subject"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.EmailAccountID == 0 || strings.TrimSpace(body.FromEmail) == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "email_account_id and from_email are required"})
		return
	}

	entry := &models.EmailLog{
		EmailAccountID: body.EmailAccountID,
		FromEmail:      parser.NormalizeAddress(body.FromEmail),
		Subject:        body.Subject,
	}
	if err := h.store.AppendEmailLog(r.Context(), entry); err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"log": entry})
}

// HandleListLogs handles GET /email-logs?telegram_id=&limit=
func (h *AdminHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := telegramIDParam(w, r)
	if !ok {
		return
	}
	limit := defaultLogsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	user, err := h.store.GetUserByTelegramID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"logs": []*models.EmailLog{}})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	logs, err := h.store.ListEmailLogs(r.Context(), user.ID, limit)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": nonNil(logs)})
}

// HandleRecordBroadcast handles POST /broadcast, which stores a broadcast sent elsewhere
func (h *AdminHandler) HandleRecordBroadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message         string `json:"message"`
		RecipientsCount int    `json:"recipients_count"`
	}
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "message is required"})
		return
	}

	rec := &models.BroadcastMessage{Message: body.Message, RecipientsCount: body.RecipientsCount}
	if err := h.store.AppendBroadcast(r.Context(), rec); err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"broadcast": rec})
}

// HandleSendBroadcast handles POST /broadcast/send
func (h *AdminHandler) HandleSendBroadcast(w http.ResponseWriter, r *http.Request) {
	if h.broadcast == nil {
		writeJSON(w, http.StatusServiceUnavailable, jsonResponse{Error: "broadcast is not configured"})
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &body) {
		return
	}

	res, err := h.broadcast.Send(r.Context(), body.Message, 0)
	if errors.Is(err, broadcast.ErrEmptyMessage) {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     res.Total,
		"sent":      res.Sent,
		"failed":    res.Failed,
		"broadcast": res.Record,
	})
}

// HandleListSettings handles GET /settings
func (h *AdminHandler) HandleListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListSettings(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": nonNil(list)})
}

// HandleSetSetting handles POST /settings. The poll interval is validated like /setinterval.
func (h *AdminHandler) HandleSetSetting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key         string `json:"key"`
		Value       string `json:"value"`
		Description string `json:"description"`
	}
	if !decode(w, r, &body) {
		return
	}
	key := strings.TrimSpace(body.Key)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "key is required"})
		return
	}

	var err error
	if key == models.SettingPollInterval {
		secs, convErr := strconv.Atoi(body.Value)
		if convErr != nil {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "poll_interval must be a number of seconds"})
			return
		}
		err = h.settings.SetPollInterval(r.Context(), time.Duration(secs)*time.Second)
	} else {
		err = h.store.SetSetting(r.Context(), key, body.Value, body.Description)
	}
	if errors.Is(err, settings.ErrIntervalTooShort) {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.internalError(w, r, fmt.Errorf("failed to set %s: %w", key, err))
		return
	}

	setting, err := h.store.GetSetting(r.Context(), key)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"setting": setting})
}

// HandleStats handles GET /stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := h.store.CountUsersByStatus(ctx)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	accounts, err := h.store.ListAccounts(ctx)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	broadcasts, err := h.store.ListBroadcasts(ctx, 0)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	active := 0
	for _, a := range accounts {
		if a.IsActive {
			active++
		}
	}
	writeJSON(w, http.StatusOK, models.StatusCounts{
		Users:      counts,
		Accounts:   active,
		Broadcasts: len(broadcasts),
	})
}

// nonNil keeps empty lists encoding as [] instead of null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
