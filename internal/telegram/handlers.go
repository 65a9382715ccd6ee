package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/formatter"
	"github.com/mailrelay/mailrelay-bot/internal/parser"
	"github.com/mailrelay/mailrelay-bot/internal/store"
)

const inboxLimit = 10

// handleStart handles /start command
func (b *Bot) handleStart(ctx context.Context, req *request) {
	l := b.texts(req)
	b.reply(ctx, req, l.T("Welcome", map[string]any{
		"Name":   formatter.EscapeHTML(req.user.DisplayName()),
		"Status": b.formatter.StatusName(req.lang, req.user.Status),
	}))
}

// handleHelp handles /help command and unknown commands
func (b *Bot) handleHelp(ctx context.Context, req *request) {
	l := b.texts(req)
	text := l.T("HelpUser")
	if b.isOwner(req.msg.From.ID) {
		text += "\n\n" + l.T("HelpOwner")
	}
	b.reply(ctx, req, text)
}

// handleVerify handles /verify command
func (b *Bot) handleVerify(ctx context.Context, req *request) {
	l := b.texts(req)

	user, err := b.access.RequestVerification(ctx, req.msg.From.ID)
	if errors.Is(err, access.ErrAlreadyApproved) {
		b.reply(ctx, req, l.T("VerifyAlreadyApproved"))
		return
	}
	if err != nil {
		b.fail(ctx, req, fmt.Errorf("failed to request verification: %w", err))
		return
	}

	// pending users may ask again; the owner gets a fresh request each time
	text := l.T("VerifyRequested")
	if url, err := b.settings.VerifyURL(ctx); err == nil && url != "" {
		text += "\n" + l.T("VerifyLink", map[string]any{"URL": formatter.EscapeHTML(url)})
	}
	b.reply(ctx, req, text)

	owner := b.formatter.Texts("")
	notice := owner.T("VerifyOwnerNotice", map[string]any{
		"Name": formatter.EscapeHTML(user.DisplayName()),
		"ID":   user.TelegramID,
	})
	keyboard := b.formatter.BuildApprovalKeyboard("", user.TelegramID, b.config.DefaultApproveDays)
	if _, err := b.sendMessage(ctx, b.config.OwnerID, notice, keyboard); err != nil {
		b.logger.Error("failed to notify owner", "telegram_id", user.TelegramID, "error", err)
	}
}

// handleStatus handles /status command
func (b *Bot) handleStatus(ctx context.Context, req *request) {
	b.reply(ctx, req, b.formatter.FormatStatus(req.lang, req.user))
}

// handleSetEmail handles /setemail command
// Usage: /setemail address
func (b *Bot) handleSetEmail(ctx context.Context, req *request) {
	l := b.texts(req)

	addr := parser.NormalizeAddress(req.args[0])
	if !parser.ValidEmail(addr) {
		b.reply(ctx, req, l.T("EmailInvalid"))
		return
	}

	acc, err := b.store.SetAccountEmail(ctx, req.user.ID, addr)
	if errors.Is(err, store.ErrAlreadyExists) {
		b.reply(ctx, req, l.T("EmailTaken"))
		return
	}
	if err != nil {
		b.fail(ctx, req, fmt.Errorf("failed to set email: %w", err))
		return
	}

	b.logger.Info("email bound", "telegram_id", req.user.TelegramID, "email", acc.Email)
	b.reply(ctx, req, l.T("EmailSet", map[string]any{"Email": formatter.EscapeHTML(acc.Email)}))
}

// handleSetReply handles /setreply command
// Usage: /setreply on|off|message text
func (b *Bot) handleSetReply(ctx context.Context, req *request) {
	l := b.texts(req)

	acc, err := b.store.GetActiveAccountByUser(ctx, req.user.ID)
	if errors.Is(err, store.ErrNotFound) {
		b.reply(ctx, req, l.T("NoEmail"))
		return
	}
	if err != nil {
		b.fail(ctx, req, fmt.Errorf("failed to get account: %w", err))
		return
	}

	enabled, message, key := true, acc.AutoReplyMessage, "ReplyUpdated"
	switch {
	case len(req.args) == 1 && strings.EqualFold(req.args[0], "on"):
		key = "ReplyEnabled"
	case len(req.args) == 1 && strings.EqualFold(req.args[0], "off"):
		enabled, key = false, "ReplyDisabled"
	default:
		message = req.rest
	}

	if err := b.store.UpdateAutoReply(ctx, acc.ID, enabled, message); err != nil {
		b.fail(ctx, req, fmt.Errorf("failed to update auto-reply: %w", err))
		return
	}
	b.reply(ctx, req, l.T(key))
}

// handleMyEmail handles /myemail command
func (b *Bot) handleMyEmail(ctx context.Context, req *request) {
	acc, err := b.store.GetActiveAccountByUser(ctx, req.user.ID)
	if errors.Is(err, store.ErrNotFound) {
		b.reply(ctx, req, b.texts(req).T("NoEmail"))
		return
	}
	if err != nil {
		b.fail(ctx, req, fmt.Errorf("failed to get account: %w", err))
		return
	}
	b.reply(ctx, req, b.formatter.FormatAccount(req.lang, acc, b.config.DefaultAutoReply))
}

// handleInbox handles /inbox command
func (b *Bot) handleInbox(ctx context.Context, req *request) {
	logs, err := b.store.ListEmailLogs(ctx, req.user.ID, inboxLimit)
	if err != nil {
		b.fail(ctx, req, fmt.Errorf("failed to list email logs: %w", err))
		return
	}
	b.reply(ctx, req, b.formatter.FormatInbox(req.lang, logs))
}
