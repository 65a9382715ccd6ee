package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

// AppendEmailLog inserts a received-email log
func (db *DB) AppendEmailLog(ctx context.Context, log *models.EmailLog) error {
	if log.RepliedAt.IsZero() {
		log.RepliedAt = time.Now()
	}
	query := `
		INSERT INTO email_logs (email_account_id, from_email, subject, replied_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	if err := db.GetContext(ctx, &log.ID, db.q(query), log.EmailAccountID, log.FromEmail, log.Subject, log.RepliedAt); err != nil {
		return fmt.Errorf("failed to append email log: %w", err)
	}
	return nil
}

// ListEmailLogs returns the latest logs across all accounts of a user
func (db *DB) ListEmailLogs(ctx context.Context, userID int64, limit int) ([]*models.EmailLog, error) {
	if limit <= 0 {
		limit = 10
	}
	var logs []*models.EmailLog
	query := `
		SELECT l.id, l.email_account_id, l.from_email, l.subject, l.replied_at
		FROM email_logs l
		JOIN email_accounts a ON a.id = l.email_account_id
		WHERE a.user_id = ?
		ORDER BY l.replied_at DESC, l.id DESC
		LIMIT ?
	`
	if err := db.SelectContext(ctx, &logs, db.q(query), userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list email logs: %w", err)
	}
	return logs, nil
}

// AppendBroadcast inserts a broadcast record
func (db *DB) AppendBroadcast(ctx context.Context, msg *models.BroadcastMessage) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	query := `
		INSERT INTO broadcast_messages (message, recipients_count, sent_at, sent_by)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	if err := db.GetContext(ctx, &msg.ID, db.q(query), msg.Message, msg.RecipientsCount, msg.SentAt, msg.SentBy); err != nil {
		return fmt.Errorf("failed to append broadcast: %w", err)
	}
	return nil
}

// ListBroadcasts returns the latest broadcasts
func (db *DB) ListBroadcasts(ctx context.Context, limit int) ([]*models.BroadcastMessage, error) {
	var msgs []*models.BroadcastMessage
	query := `SELECT * FROM broadcast_messages ORDER BY sent_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if err := db.SelectContext(ctx, &msgs, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	return msgs, nil
}
