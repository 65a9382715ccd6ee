// Package broadcast sends owner announcements to every approved user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

// ErrEmptyMessage is returned for blank broadcast text
var ErrEmptyMessage = errors.New("broadcast message is empty")

// Recipients lists users with live access
type Recipients interface {
	ListApproved(ctx context.Context) ([]*models.User, error)
}

// Notifier delivers text to a Telegram chat
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Formatter renders the broadcast text
type Formatter interface {
	FormatBroadcast(text string) string
}

// Result tally of one broadcast
type Result struct {
	Total  int
	Sent   int
	Failed int
	Record *models.BroadcastMessage
}

// Service sends broadcasts sequentially and records them
type Service struct {
	recipients Recipients
	notifier   Notifier
	formatter  Formatter
	store      store.Broadcasts
	logger     *slog.Logger
}

// NewService creates a broadcast service
func NewService(recipients Recipients, notifier Notifier, formatter Formatter, st store.Broadcasts, logger *slog.Logger) *Service {
	return &Service{
		recipients: recipients,
		notifier:   notifier,
		formatter:  formatter,
		store:      st,
		logger:     logger.With("component", "broadcast"),
	}
}

// Send delivers text to every approved user and persists the literal text with the sent count
func (s *Service) Send(ctx context.Context, text string, sentBy int64) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	users, err := s.recipients.ListApproved(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	body := s.formatter.FormatBroadcast(text)
	res := &Result{Total: len(users)}
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		if err := s.notifier.Notify(ctx, u.TelegramID, body); err != nil {
			res.Failed++
			s.logger.Warn("broadcast delivery failed", "telegram_id", u.TelegramID, "error", err)
			continue
		}
		res.Sent++
	}

	res.Record = &models.BroadcastMessage{
		Message:         text,
		RecipientsCount: res.Sent,
		SentBy:          sentBy,
	}
	if err := s.store.AppendBroadcast(ctx, res.Record); err != nil {
		return res, fmt.Errorf("failed to record broadcast: %w", err)
	}

	s.logger.Info("broadcast sent", "total", res.Total, "sent", res.Sent, "failed", res.Failed)
	return res, nil
}
