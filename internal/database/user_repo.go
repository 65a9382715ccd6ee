package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

// GetUserByTelegramID returns a user by Telegram ID
func (db *DB) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.q(`SELECT * FROM telegram_users WHERE telegram_id = ?`), telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByID returns a user by primary key
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.q(`SELECT * FROM telegram_users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpsertUser creates a pending user or refreshes the profile of an existing one
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	if user.Status == "" {
		user.Status = models.StatusPending
	}
	query := `
		INSERT INTO telegram_users (telegram_id, username, first_name, last_name, language_code, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			language_code = excluded.language_code,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, db.q(query),
		user.TelegramID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.LanguageCode,
		user.Status,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	saved, err := db.GetUserByTelegramID(ctx, user.TelegramID)
	if err != nil {
		return err
	}
	*user = *saved
	return nil
}

// UpdateUserStatus sets the approval fields of a user
func (db *DB) UpdateUserStatus(ctx context.Context, telegramID int64, status models.UserStatus, expiresAt, verifiedAt *time.Time) error {
	if verifiedAt != nil {
		query := `
			UPDATE telegram_users
			SET status = ?, expires_at = ?, verified_at = ?, verification_type = 'manual', updated_at = ?
			WHERE telegram_id = ?
		`
		return db.execOne(ctx, "update user status", query, status, expiresAt, verifiedAt, time.Now(), telegramID)
	}
	query := `UPDATE telegram_users SET status = ?, expires_at = ?, updated_at = ? WHERE telegram_id = ?`
	return db.execOne(ctx, "update user status", query, status, expiresAt, time.Now(), telegramID)
}

// ListUsers returns the newest users first
func (db *DB) ListUsers(ctx context.Context, limit int) ([]*models.User, error) {
	var users []*models.User
	query := `SELECT * FROM telegram_users ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if err := db.SelectContext(ctx, &users, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ListUsersByStatus returns all users with the given status
func (db *DB) ListUsersByStatus(ctx context.Context, status models.UserStatus) ([]*models.User, error) {
	var users []*models.User
	query := `SELECT * FROM telegram_users WHERE status = ? ORDER BY created_at DESC, id DESC`
	if err := db.SelectContext(ctx, &users, db.q(query), status); err != nil {
		return nil, fmt.Errorf("failed to list users by status: %w", err)
	}
	return users, nil
}

// CountUsersByStatus returns the number of users per status
func (db *DB) CountUsersByStatus(ctx context.Context) (map[models.UserStatus]int, error) {
	var rows []struct {
		Status models.UserStatus `db:"status"`
		N      int               `db:"n"`
	}
	query := `SELECT status, COUNT(*) AS n FROM telegram_users GROUP BY status`
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	counts := make(map[models.UserStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
