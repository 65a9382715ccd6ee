package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Sender is the part of the Bot API the bot uses; *bot.Bot satisfies it
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Messenger delivers notifications to Telegram chats
type Messenger struct {
	api Sender
}

// NewMessenger creates a messenger over api
func NewMessenger(api Sender) *Messenger {
	return &Messenger{api: api}
}

// Notify sends HTML text to chatID
func (m *Messenger) Notify(ctx context.Context, chatID int64, text string) error {
	disabled := true
	_, err := m.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: &disabled},
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	return nil
}
