package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackApprove CallbackAction = "ap"
	CallbackReject  CallbackAction = "rj"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action     CallbackAction `json:"a"`
	TelegramID int64          `json:"u"`
	Days       int            `json:"d,omitempty"` // Approval length
}
