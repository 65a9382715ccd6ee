// Package poller periodically pulls unread mail from a mailbox and forwards it to approved users.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/email"
	"github.com/mailrelay/mailrelay-bot/internal/graph"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

const (
	maxSeen  = 1000
	keepSeen = 500
)

// Source yields unread mail
type Source interface {
	Name() string
	FetchUnread(ctx context.Context, since time.Time) ([]*email.Message, error)
}

// Recipients lists users that should receive polled mail
type Recipients interface {
	ListApproved(ctx context.Context) ([]*models.User, error)
}

// Intervals provides the current poll interval
type Intervals interface {
	PollInterval(ctx context.Context) time.Duration
}

// Notifier delivers text to a Telegram chat
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Formatter renders a polled message
type Formatter interface {
	FormatPolled(msg *email.Message, body, otp string) string
	FormatReauth(source string) string
}

// BodyExtractor turns a message into text and an optional code
type BodyExtractor interface {
	Body(text, html string) string
}

// CodeExtractor finds a one-time code in text
type CodeExtractor interface {
	Extract(text string) (string, bool)
}

// Status snapshot of the poller
type Status struct {
	Source    string
	Interval  time.Duration
	Processed int
	LastCheck time.Time
	Halted    bool
}

// Deps dependencies for creating a poller
type Deps struct {
	Source     Source
	Recipients Recipients
	Intervals  Intervals
	Notifier   Notifier
	Formatter  Formatter
	Bodies     BodyExtractor
	Codes      CodeExtractor
	OwnerID    int64
	Logger     *slog.Logger
}

// Poller runs the fetch loop
type Poller struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	seen      *seenSet
	lastCheck time.Time
	halted    bool
	interval  time.Duration
}

// New creates a poller. The first poll only picks up mail received after startup.
func New(deps Deps) *Poller {
	p := &Poller{
		deps:   deps,
		logger: deps.Logger.With("component", "poller", "source", deps.Source.Name()),
		now:    time.Now,
		seen:   newSeenSet(maxSeen, keepSeen),
	}
	p.lastCheck = p.now()
	p.interval = deps.Intervals.PollInterval(context.Background())
	return p
}

// Run polls until ctx is done
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("starting mail poller")
	for {
		interval := p.deps.Intervals.PollInterval(ctx)
		p.mu.Lock()
		p.interval = interval
		p.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("mail poller stopped")
			return
		case <-timer.C:
		}

		if _, err := p.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("poll failed", "error", err)
		}
	}
}

// Poll runs one fetch cycle and returns the number of messages forwarded
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.halted {
		p.mu.Unlock()
		return 0, nil
	}
	since := p.lastCheck
	p.mu.Unlock()

	started := p.now()
	msgs, err := p.deps.Source.FetchUnread(ctx, since)
	if errors.Is(err, graph.ErrReauthRequired) {
		p.halt(ctx)
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	var fresh []*email.Message
	p.mu.Lock()
	for _, m := range msgs {
		if !p.seen.Has(m.ID) {
			fresh = append(fresh, m)
		}
	}
	p.mu.Unlock()

	if len(fresh) > 0 {
		users, err := p.deps.Recipients.ListApproved(ctx)
		if err != nil {
			return 0, err
		}

		// oldest first so chats read chronologically
		for i := len(fresh) - 1; i >= 0; i-- {
			m := fresh[i]
			body := p.deps.Bodies.Body(m.Text, m.HTML)
			otp, _ := p.deps.Codes.Extract(body)
			text := p.deps.Formatter.FormatPolled(m, body, otp)

			for _, u := range users {
				if err := p.deps.Notifier.Notify(ctx, u.TelegramID, text); err != nil {
					p.logger.Warn("failed to forward message", "telegram_id", u.TelegramID, "message_id", m.ID, "error", err)
				}
			}

			p.mu.Lock()
			p.seen.Add(m.ID)
			p.mu.Unlock()

			p.logger.Info("forwarded message", "message_id", m.ID, "recipients", len(users), "otp_found", otp != "")
		}
	}

	p.mu.Lock()
	p.lastCheck = started
	p.mu.Unlock()
	return len(fresh), nil
}

// halt stops polling until Resume and tells the owner once
func (p *Poller) halt(ctx context.Context) {
	p.mu.Lock()
	already := p.halted
	p.halted = true
	p.mu.Unlock()

	if already {
		return
	}
	p.logger.Warn("mail source requires re-authentication, polling halted")
	if err := p.deps.Notifier.Notify(ctx, p.deps.OwnerID, p.deps.Formatter.FormatReauth(p.deps.Source.Name())); err != nil {
		p.logger.Error("failed to notify owner", "error", err)
	}
}

// Resume continues polling after a successful login
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted {
		p.logger.Info("polling resumed")
	}
	p.halted = false
}

// Status returns a snapshot
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Source:    p.deps.Source.Name(),
		Interval:  p.interval,
		Processed: p.seen.Len(),
		LastCheck: p.lastCheck,
		Halted:    p.halted,
	}
}
