package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

// GetActiveAccountByEmail returns the active account bound to an address
func (db *DB) GetActiveAccountByEmail(ctx context.Context, email string) (*models.EmailAccount, error) {
	var account models.EmailAccount
	query := `SELECT * FROM email_accounts WHERE email = ? AND is_active = ? ORDER BY updated_at DESC LIMIT 1`
	err := db.GetContext(ctx, &account, db.q(query), strings.ToLower(email), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetActiveAccountByUser returns the active account of a user
func (db *DB) GetActiveAccountByUser(ctx context.Context, userID int64) (*models.EmailAccount, error) {
	var account models.EmailAccount
	query := `SELECT * FROM email_accounts WHERE user_id = ? AND is_active = ? ORDER BY updated_at DESC LIMIT 1`
	err := db.GetContext(ctx, &account, db.q(query), userID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// SetAccountEmail binds email to the user and deactivates the user's other accounts.
// Returns store.ErrAlreadyExists when another user actively owns the address.
func (db *DB) SetAccountEmail(ctx context.Context, userID int64, email string) (*models.EmailAccount, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var taken int
	err = tx.GetContext(ctx, &taken, db.q(`SELECT COUNT(*) FROM email_accounts WHERE email = ? AND is_active = ? AND user_id <> ?`), email, true, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if taken > 0 {
		return nil, store.ErrAlreadyExists
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, db.q(`UPDATE email_accounts SET is_active = ?, updated_at = ? WHERE user_id = ? AND email <> ?`), false, now, userID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate accounts: %w", err)
	}

	query := `
		INSERT INTO email_accounts (user_id, email, is_active, auto_reply_enabled, auto_reply_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, email) DO UPDATE SET is_active = excluded.is_active, updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, db.q(query), userID, email, true, false, "", now, now); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	var account models.EmailAccount
	err = tx.GetContext(ctx, &account, db.q(`SELECT * FROM email_accounts WHERE user_id = ? AND email = ?`), userID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &account, nil
}

// UpdateAutoReply sets the auto-reply fields of an account
func (db *DB) UpdateAutoReply(ctx context.Context, accountID int64, enabled bool, message string) error {
	query := `UPDATE email_accounts SET auto_reply_enabled = ?, auto_reply_message = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "update auto reply", query, enabled, message, time.Now(), accountID)
}

// SetAccountActive sets the active status of an account
func (db *DB) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	query := `UPDATE email_accounts SET is_active = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "set account active", query, active, time.Now(), accountID)
}

// ListAccounts returns all accounts, newest first
func (db *DB) ListAccounts(ctx context.Context) ([]*models.EmailAccount, error) {
	var accounts []*models.EmailAccount
	if err := db.SelectContext(ctx, &accounts, `SELECT * FROM email_accounts ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// execOne runs an update that must touch exactly one row
func (db *DB) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := db.ExecContext(ctx, db.q(query), args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
