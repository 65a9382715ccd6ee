package formatter

import (
	"encoding/json"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mailrelay/mailrelay-bot/pkg/models"
)

// BuildApprovalKeyboard creates approve/reject buttons for an access request
func (f *TelegramFormatter) BuildApprovalKeyboard(lang string, telegramID int64, days int) *models.InlineKeyboardMarkup {
	l := f.texts.For(lang)

	row := []models.InlineKeyboardButton{
		{
			Text: l.T("ButtonApprove", map[string]any{"Days": days}),
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action:     appmodels.CallbackApprove,
				TelegramID: telegramID,
				Days:       days,
			}),
		},
		{
			Text: l.T("ButtonReject"),
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action:     appmodels.CallbackReject,
				TelegramID: telegramID,
			}),
		},
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{row},
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
