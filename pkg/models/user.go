package models

import "time"

// UserStatus approval state of a Telegram user
type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusApproved UserStatus = "approved"
	StatusRejected UserStatus = "rejected"
	StatusExpired  UserStatus = "expired"
)

// Valid reports whether s is a known status
func (s UserStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// User represents a Telegram user known to the bot
type User struct {
	ID               int64      `db:"id" json:"id"`
	TelegramID       int64      `db:"telegram_id" json:"telegram_id"`
	Username         string     `db:"username" json:"username,omitempty"`
	FirstName        string     `db:"first_name" json:"first_name,omitempty"`
	LastName         string     `db:"last_name" json:"last_name,omitempty"`
	LanguageCode     string     `db:"language_code" json:"language_code,omitempty"`
	Status           UserStatus `db:"status" json:"status"`
	ExpiresAt        *time.Time `db:"expires_at" json:"expires_at,omitempty"`               // nil means no expiry
	VerifiedAt       *time.Time `db:"verified_at" json:"verified_at,omitempty"`             // set on approve
	VerificationType string     `db:"verification_type" json:"verification_type,omitempty"` // "manual" for owner approval
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the user's access window has passed at now
func (u *User) IsExpired(now time.Time) bool {
	return u.ExpiresAt != nil && !u.ExpiresAt.After(now)
}

// DisplayName returns the best human-readable name for the user
func (u *User) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	}
	return "unknown"
}
