package telegram

import (
	"context"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// reply sends an HTML message to the chat the request came from
func (b *Bot) reply(ctx context.Context, req *request, text string) {
	if _, err := b.sendMessage(ctx, req.chatID(), text, nil); err != nil {
		b.logger.Error("failed to send reply", "chat_id", req.chatID(), "command", req.name, "error", err)
	}
}

// fail logs err, reports it and tells the user something went wrong
func (b *Bot) fail(ctx context.Context, req *request, err error) {
	b.logger.Error("command failed", "command", req.name, "telegram_id", req.msg.From.ID, "error", err)
	captureError(err, req.name)
	b.reply(ctx, req, b.texts(req).T("Error"))
}

// sendMessage sends a message with an optional inline keyboard
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) (*models.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	return b.api.SendMessage(ctx, params)
}

// editMessageReplyMarkup replaces the keyboard of a message; nil removes it
func (b *Bot) editMessageReplyMarkup(ctx context.Context, chatID int64, msgID int, keyboard *models.InlineKeyboardMarkup) error {
	params := &bot.EditMessageReplyMarkupParams{
		ChatID:    chatID,
		MessageID: msgID,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	_, err := b.api.EditMessageReplyMarkup(ctx, params)
	return err
}

// answerCallback answers a callback query
func (b *Bot) answerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	_, err := b.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	return err
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// stripTags turns an HTML message into plain text for callback answers
func stripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&").Replace(s)
	return strings.TrimSpace(s)
}

func captureError(err error, command string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "telegram_bot")
		scope.SetTag("command", command)
		sentry.CaptureException(err)
	})
}
