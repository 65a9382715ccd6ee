package models

import "time"

// EmailLog record of a received email, append-only
type EmailLog struct {
	ID             int64     `db:"id" json:"id"`
	EmailAccountID int64     `db:"email_account_id" json:"email_account_id"` // FK to EmailAccount
	FromEmail      string    `db:"from_email" json:"from_email"`
	Subject        string    `db:"subject" json:"subject"`
	RepliedAt      time.Time `db:"replied_at" json:"replied_at"`
}
