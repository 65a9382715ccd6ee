package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mailrelay/mailrelay-bot/internal/email"
	"github.com/mailrelay/mailrelay-bot/internal/relay"
)

const defaultWebhookMaxBodyBytes int64 = 1024 * 1024

// Dispatcher relays one inbound email
type Dispatcher interface {
	Dispatch(ctx context.Context, in relay.Inbound) (*relay.Result, error)
}

// WebhookHandler receives emails pushed by the mail worker
type WebhookHandler struct {
	dispatcher   Dispatcher
	token        string
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewWebhookHandler creates the email webhook handler. An empty token leaves the endpoint open.
func NewWebhookHandler(dispatcher Dispatcher, token string, maxBodyBytes int64, logger *slog.Logger) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultWebhookMaxBodyBytes
	}
	return &WebhookHandler{
		dispatcher:   dispatcher,
		token:        strings.TrimSpace(token),
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With("component", "email_webhook"),
	}
}

type webhookRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	Raw       string `json:"raw"`
	MessageID string `json:"messageId"`
}

type autoReplyPayload struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
	Subject string `json:"subject,omitempty"`
	Raw     string `json:"raw,omitempty"`
}

type webhookResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message,omitempty"`
	AutoReply *autoReplyPayload `json:"autoReply,omitempty"`
}

// HandleEmail handles POST /email-webhook
func (h *WebhookHandler) HandleEmail(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && !validBearerToken(r.Header.Get("Authorization"), h.token) {
		writeJSON(w, http.StatusUnauthorized, webhookResponse{Message: "unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var payload webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, webhookResponse{Message: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, webhookResponse{Message: "invalid JSON payload"})
		return
	}

	in := relay.Inbound{
		From:      payload.From,
		To:        payload.To,
		Subject:   payload.Subject,
		Text:      payload.Text,
		HTML:      payload.HTML,
		MessageID: payload.MessageID,
	}
	if strings.TrimSpace(payload.Raw) != "" {
		parsed, err := email.ParseRaw([]byte(payload.Raw))
		if err != nil && parsed == nil {
			writeJSON(w, http.StatusBadRequest, webhookResponse{Message: "invalid raw message: " + err.Error()})
			return
		}
		if err != nil {
			h.logger.Warn("raw message partially parsed", "error", err)
		}
		fillFromRaw(&in, parsed)
	}

	res, err := h.dispatcher.Dispatch(r.Context(), in)
	if errors.Is(err, relay.ErrInvalidInbound) {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Message: err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to relay email", "to", in.To, "error", err)
		captureError(r, err)
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Message: "Internal error"})
		return
	}

	switch res.Outcome {
	case relay.OutcomeNoAccount:
		writeJSON(w, http.StatusNotFound, webhookResponse{Message: "No matching account"})
	case relay.OutcomeNotApproved:
		writeJSON(w, http.StatusForbidden, webhookResponse{Message: "User not approved"})
	default:
		writeJSON(w, http.StatusOK, webhookResponse{Success: true, AutoReply: replyPayload(res.AutoReply)})
	}
}

// fillFromRaw copies fields missing from the JSON envelope out of the parsed message
func fillFromRaw(in *relay.Inbound, parsed *email.Message) {
	if strings.TrimSpace(in.From) == "" {
		in.From = parsed.From
	}
	if strings.TrimSpace(in.To) == "" {
		in.To = parsed.To
	}
	if strings.TrimSpace(in.Subject) == "" {
		in.Subject = parsed.Subject
	}
	if strings.TrimSpace(in.Text) == "" {
		in.Text = parsed.Text
	}
	if strings.TrimSpace(in.HTML) == "" {
		in.HTML = parsed.HTML
	}
	if strings.TrimSpace(in.MessageID) == "" {
		in.MessageID = parsed.MessageID
	}
}

func replyPayload(ar *relay.AutoReply) *autoReplyPayload {
	if ar == nil {
		return &autoReplyPayload{Enabled: false}
	}
	return &autoReplyPayload{
		Enabled: true,
		Message: ar.Message,
		From:    ar.From,
		To:      ar.To,
		ReplyTo: ar.ReplyTo,
		Subject: ar.Subject,
		Raw:     string(ar.Raw),
	}
}
