package telegram

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/formatter"
	appmodels "github.com/mailrelay/mailrelay-bot/pkg/models"
)

// handleCallback handles the approve/reject buttons on access requests
func (b *Bot) handleCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}
	b.processCallback(ctx, callback)
}

func (b *Bot) processCallback(ctx context.Context, callback *models.CallbackQuery) {
	l := b.formatter.Texts(callback.From.LanguageCode)

	if !b.isOwner(callback.From.ID) {
		b.answerCallback(ctx, callback.ID, l.T("OwnerOnly"), true)
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, l.T("Error"), false)
		return
	}

	var answer string
	switch data.Action {
	case appmodels.CallbackApprove:
		var user *appmodels.User
		user, err = b.approve(ctx, data.TelegramID, data.Days)
		if err == nil {
			answer = l.T("UserApproved", map[string]any{
				"ID":     data.TelegramID,
				"Expiry": b.formatter.FormatExpiry(callback.From.LanguageCode, user.ExpiresAt),
			})
		}
	case appmodels.CallbackReject:
		err = b.revoke(ctx, data.TelegramID)
		answer = l.T("UserRevoked", map[string]any{"ID": data.TelegramID})
	default:
		b.answerCallback(ctx, callback.ID, l.T("Error"), false)
		return
	}

	if errors.Is(err, access.ErrUnknownUser) {
		b.answerCallback(ctx, callback.ID, stripTags(l.T("UnknownUser", map[string]any{"ID": data.TelegramID})), true)
		return
	}
	if err != nil {
		b.logger.Error("callback action failed", "action", data.Action, "telegram_id", data.TelegramID, "error", err)
		captureError(err, "callback")
		b.answerCallback(ctx, callback.ID, l.T("Error"), true)
		return
	}

	b.answerCallback(ctx, callback.ID, stripTags(answer), false)

	// drop the buttons so the request cannot be answered twice
	if msg := callback.Message.Message; msg != nil {
		if err := b.editMessageReplyMarkup(ctx, msg.Chat.ID, msg.ID, nil); err != nil {
			b.logger.Warn("failed to remove keyboard", "error", err)
		}
	}
}
