package models

import "time"

// BroadcastMessage record of a sent broadcast
type BroadcastMessage struct {
	ID              int64     `db:"id" json:"id"`
	Message         string    `db:"message" json:"message"`
	RecipientsCount int       `db:"recipients_count" json:"recipients_count"`
	SentAt          time.Time `db:"sent_at" json:"sent_at"`
	SentBy          int64     `db:"sent_by" json:"sent_by"` // Telegram ID of the sender, 0 for API
}
