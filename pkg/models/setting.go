package models

import "time"

// Setting key names used by the bot at runtime
const (
	SettingPollInterval = "poll_interval" // seconds
	SettingVerifyURL    = "verify_url"    // link sent with /verify
)

// Setting free-form key/value pair
type Setting struct {
	Key         string    `db:"key" json:"key"`
	Value       string    `db:"value" json:"value"`
	Description string    `db:"description" json:"description,omitempty"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// StatusCounts aggregate numbers for the admin API
type StatusCounts struct {
	Users      map[UserStatus]int `json:"users"`
	Accounts   int                `json:"accounts"`
	Broadcasts int                `json:"broadcasts"`
}
