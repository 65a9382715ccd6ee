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

// GetSetting returns a setting by key
func (db *DB) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var s models.Setting
	err := db.GetContext(ctx, &s, db.q(`SELECT * FROM bot_settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return &s, nil
}

// SetSetting inserts or replaces a setting
func (db *DB) SetSetting(ctx context.Context, key, value, description string) error {
	query := `
		INSERT INTO bot_settings (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			description = CASE WHEN excluded.description = '' THEN bot_settings.description ELSE excluded.description END,
			updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, db.q(query), key, value, description, time.Now()); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

// ListSettings returns all settings ordered by key
func (db *DB) ListSettings(ctx context.Context) ([]*models.Setting, error) {
	var settings []*models.Setting
	if err := db.SelectContext(ctx, &settings, `SELECT * FROM bot_settings ORDER BY key`); err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}
