package models

import "time"

// EmailAccount an email address bound to a user
type EmailAccount struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"` // FK to User
	Email            string    `db:"email" json:"email"`     // lowercased address
	IsActive         bool      `db:"is_active" json:"is_active"`
	AutoReplyEnabled bool      `db:"auto_reply_enabled" json:"auto_reply_enabled"`
	AutoReplyMessage string    `db:"auto_reply_message" json:"auto_reply_message"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// AccountWithUser an account joined with its owner
type AccountWithUser struct {
	Account *EmailAccount `json:"account"`
	User    *User         `json:"user"`
}
