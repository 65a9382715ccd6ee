package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/settings"
	appmodels "github.com/mailrelay/mailrelay-bot/pkg/models"
)

const usersLimit = 20

// handleApprove handles /approve command
// Usage: /approve telegram_id [days]
func (b *Bot) handleApprove(ctx context.Context, req *request) {
	l := b.texts(req)

	telegramID, err := strconv.ParseInt(req.args[0], 10, 64)
	if err != nil {
		b.reply(ctx, req, l.T("InvalidUserID"))
		return
	}

	days := b.config.DefaultApproveDays
	if len(req.args) == 2 {
		days, err = strconv.Atoi(req.args[1])
		if err != nil || days < 0 {
			b.reply(ctx, req, l.T("InvalidDays"))
			return
		}
	}

	user, err := b.approve(ctx, telegramID, days)
	if errors.Is(err, access.ErrUnknownUser) {
		b.reply(ctx, req, l.T("UnknownUser", map[string]any{"ID": telegramID}))
		return
	}
	if err != nil {
		b.fail(ctx, req, err)
		return
	}

	b.reply(ctx, req, l.T("UserApproved", map[string]any{
		"ID":     telegramID,
		"Expiry": b.formatter.FormatExpiry(req.lang, user.ExpiresAt),
	}))
}

// handleRevoke handles /revoke command
// Usage: /revoke telegram_id
func (b *Bot) handleRevoke(ctx context.Context, req *request) {
	l := b.texts(req)

	telegramID, err := strconv.ParseInt(req.args[0], 10, 64)
	if err != nil {
		b.reply(ctx, req, l.T("InvalidUserID"))
		return
	}

	err = b.revoke(ctx, telegramID)
	if errors.Is(err, access.ErrUnknownUser) {
		b.reply(ctx, req, l.T("UnknownUser", map[string]any{"ID": telegramID}))
		return
	}
	if err != nil {
		b.fail(ctx, req, err)
		return
	}

	b.reply(ctx, req, l.T("UserRevoked", map[string]any{"ID": telegramID}))
}

// approve grants access and tells the user
func (b *Bot) approve(ctx context.Context, telegramID int64, days int) (*appmodels.User, error) {
	user, err := b.access.Approve(ctx, telegramID, days)
	if err != nil {
		return nil, err
	}
	b.logger.Info("user approved", "telegram_id", telegramID, "days", days)

	ul := b.formatter.Texts(user.LanguageCode)
	text := ul.T("UserApprovedNotice", map[string]any{
		"Expiry": b.formatter.FormatExpiry(user.LanguageCode, user.ExpiresAt),
	})
	if _, err := b.sendMessage(ctx, telegramID, text, nil); err != nil {
		b.logger.Warn("failed to notify approved user", "telegram_id", telegramID, "error", err)
	}
	return user, nil
}

// revoke rejects a user and tells them
func (b *Bot) revoke(ctx context.Context, telegramID int64) error {
	user, err := b.access.Revoke(ctx, telegramID)
	if err != nil {
		return err
	}
	b.logger.Info("user revoked", "telegram_id", telegramID)

	text := b.formatter.Texts(user.LanguageCode).T("UserRevokedNotice")
	if _, err := b.sendMessage(ctx, telegramID, text, nil); err != nil {
		b.logger.Warn("failed to notify revoked user", "telegram_id", telegramID, "error", err)
	}
	return nil
}

// handleUsers handles /users command
func (b *Bot) handleUsers(ctx context.Context, req *request) {
	users, err := b.store.ListUsers(ctx, usersLimit)
	if err != nil {
		b.fail(ctx, req, fmt.Errorf("failed to list users: %w", err))
		return
	}
	counts, err := b.store.CountUsersByStatus(ctx)
	if err != nil {
		b.fail(ctx, req, fmt.Errorf("failed to count users: %w", err))
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	b.reply(ctx, req, b.formatter.FormatUsers(req.lang, users, total))
}

// handleBroadcast handles /broadcast command
// Usage: /broadcast text
func (b *Bot) handleBroadcast(ctx context.Context, req *request) {
	if b.broadcast == nil {
		b.fail(ctx, req, errors.New("broadcast service not configured"))
		return
	}
	res, err := b.broadcast.Send(ctx, req.rest, req.msg.From.ID)
	if err != nil {
		b.fail(ctx, req, err)
		return
	}
	b.reply(ctx, req, b.texts(req).T("BroadcastDone", map[string]any{
		"Sent":  res.Sent,
		"Total": res.Total,
	}))
}

// handleSetInterval handles /setinterval command
// Usage: /setinterval seconds
func (b *Bot) handleSetInterval(ctx context.Context, req *request) {
	l := b.texts(req)
	invalid := l.T("IntervalInvalid", map[string]any{"Min": int(settings.MinPollInterval.Seconds())})

	seconds, err := strconv.Atoi(req.args[0])
	if err != nil {
		b.reply(ctx, req, invalid)
		return
	}

	err = b.settings.SetPollInterval(ctx, time.Duration(seconds)*time.Second)
	if errors.Is(err, settings.ErrIntervalTooShort) {
		b.reply(ctx, req, invalid)
		return
	}
	if err != nil {
		b.fail(ctx, req, err)
		return
	}

	b.logger.Info("poll interval changed", "seconds", seconds)
	b.reply(ctx, req, l.T("IntervalSet", map[string]any{"Seconds": seconds}))
}

// handlePollStatus handles /pollstatus command
func (b *Bot) handlePollStatus(ctx context.Context, req *request) {
	l := b.texts(req)
	if b.poller == nil {
		b.reply(ctx, req, l.T("PollDisabled"))
		return
	}

	st := b.poller.Status()
	lastCheck := "-"
	if !st.LastCheck.IsZero() {
		lastCheck = st.LastCheck.Format("02.01.2006 15:04:05")
	}
	b.reply(ctx, req, l.T("PollStatus", map[string]any{
		"Source":    st.Source,
		"Interval":  st.Interval.String(),
		"Processed": st.Processed,
		"LastCheck": lastCheck,
		"Halted":    st.Halted,
	}))
}
