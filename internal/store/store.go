// Package store defines the persistence contract shared by the SQL and JSON-file backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// Users persists Telegram users and their approval state.
type Users interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	// UpsertUser creates the user as pending or refreshes its profile fields.
	// Status fields of an existing user are left untouched.
	UpsertUser(ctx context.Context, user *models.User) error
	UpdateUserStatus(ctx context.Context, telegramID int64, status models.UserStatus, expiresAt, verifiedAt *time.Time) error
	ListUsers(ctx context.Context, limit int) ([]*models.User, error)
	ListUsersByStatus(ctx context.Context, status models.UserStatus) ([]*models.User, error)
	CountUsersByStatus(ctx context.Context) (map[models.UserStatus]int, error)
}

// Accounts persists email accounts.
type Accounts interface {
	GetActiveAccountByEmail(ctx context.Context, email string) (*models.EmailAccount, error)
	GetActiveAccountByUser(ctx context.Context, userID int64) (*models.EmailAccount, error)
	// SetAccountEmail makes email the only active account of the user.
	SetAccountEmail(ctx context.Context, userID int64, email string) (*models.EmailAccount, error)
	UpdateAutoReply(ctx context.Context, accountID int64, enabled bool, message string) error
	SetAccountActive(ctx context.Context, accountID int64, active bool) error
	ListAccounts(ctx context.Context) ([]*models.EmailAccount, error)
}

// Logs persists received-email logs.
type Logs interface {
	AppendEmailLog(ctx context.Context, log *models.EmailLog) error
	ListEmailLogs(ctx context.Context, userID int64, limit int) ([]*models.EmailLog, error)
}

// Broadcasts persists broadcast records.
type Broadcasts interface {
	AppendBroadcast(ctx context.Context, msg *models.BroadcastMessage) error
	ListBroadcasts(ctx context.Context, limit int) ([]*models.BroadcastMessage, error)
}

// Settings persists key/value settings.
type Settings interface {
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	SetSetting(ctx context.Context, key, value, description string) error
	ListSettings(ctx context.Context) ([]*models.Setting, error)
}

// Store is the full persistence surface.
type Store interface {
	Users
	Accounts
	Logs
	Broadcasts
	Settings
	Close() error
}
