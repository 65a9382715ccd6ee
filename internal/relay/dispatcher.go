// Package relay routes inbound email to the Telegram owner of the destination address.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/email"
	"github.com/mailrelay/mailrelay-bot/internal/formatter"
	"github.com/mailrelay/mailrelay-bot/internal/parser"
	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

// ErrInvalidInbound is returned when from or to is missing
var ErrInvalidInbound = errors.New("from and to are required")

// Outcome of a dispatch
type Outcome int

const (
	OutcomeNoAccount Outcome = iota
	OutcomeNotApproved
	OutcomeDelivered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoAccount:
		return "no_account"
	case OutcomeNotApproved:
		return "not_approved"
	case OutcomeDelivered:
		return "delivered"
	}
	return "unknown"
}

// Inbound is one email pushed by an ingress adapter
type Inbound struct {
	From      string
	To        string
	Subject   string
	Text      string
	HTML      string
	MessageID string
}

// AutoReply is the reply the ingress adapter should send back
type AutoReply struct {
	Message string
	From    string
	To      string
	ReplyTo string
	Subject string
	Raw     []byte
}

// Result of a dispatch. Side-effect failures after the gate are reported here, not as errors.
type Result struct {
	Outcome   Outcome
	Account   *models.EmailAccount
	User      *models.User
	Code      string
	LogErr    error
	NotifyErr error
	ReplyErr  error
	AutoReply *AutoReply
}

// Approvals checks whether a user may receive mail
type Approvals interface {
	Check(ctx context.Context, telegramID int64) (*models.User, error)
	IsApproved(user *models.User) bool
	Now() time.Time
}

// Notifier delivers text to a Telegram chat
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Formatter renders the owner notification
type Formatter interface {
	FormatIncoming(lang string, in formatter.Incoming) string
}

// BodyExtractor turns text/html parts into plain text
type BodyExtractor interface {
	Body(text, html string) string
}

// CodeExtractor finds a one-time code in text
type CodeExtractor interface {
	Extract(text string) (string, bool)
}

// Config tunes the dispatcher
type Config struct {
	// RequireAutoReply only matches accounts with auto-reply enabled
	RequireAutoReply bool
	DefaultAutoReply string
}

// Deps dependencies for creating a dispatcher
type Deps struct {
	Accounts  store.Accounts
	Users     store.Users
	Logs      store.Logs
	Approvals Approvals
	Notifier  Notifier
	Formatter Formatter
	Bodies    BodyExtractor
	Codes     CodeExtractor
	Config    Config
	Logger    *slog.Logger
}

// Dispatcher applies the relay pipeline to inbound email
type Dispatcher struct {
	deps   Deps
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Dispatcher{
		deps:   deps,
		logger: deps.Logger.With("component", "relay"),
	}
}

// Dispatch looks up the destination account, gates on approval, logs, notifies and prepares the auto-reply
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) (*Result, error) {
	from := parser.NormalizeAddress(in.From)
	to := parser.NormalizeAddress(in.To)
	if from == "" || to == "" {
		return nil, ErrInvalidInbound
	}

	account, err := d.deps.Accounts.GetActiveAccountByEmail(ctx, to)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Info("no account for recipient", "to", to)
		return &Result{Outcome: OutcomeNoAccount}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if d.deps.Config.RequireAutoReply && !account.AutoReplyEnabled {
		d.logger.Info("account has auto-reply disabled", "to", to)
		return &Result{Outcome: OutcomeNoAccount}, nil
	}

	owner, err := d.deps.Users.GetUserByID(ctx, account.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{Outcome: OutcomeNoAccount}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account owner: %w", err)
	}

	user, err := d.deps.Approvals.Check(ctx, owner.TelegramID)
	if errors.Is(err, access.ErrUnknownUser) {
		return &Result{Outcome: OutcomeNotApproved, Account: account}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check approval: %w", err)
	}
	if !d.deps.Approvals.IsApproved(user) {
		d.logger.Info("recipient not approved", "to", to, "telegram_id", user.TelegramID, "status", user.Status)
		return &Result{Outcome: OutcomeNotApproved, Account: account, User: user}, nil
	}

	res := &Result{Outcome: OutcomeDelivered, Account: account, User: user}

	entry := &models.EmailLog{
		EmailAccountID: account.ID,
		FromEmail:      from,
		Subject:        in.Subject,
	}
	if err := d.deps.Logs.AppendEmailLog(ctx, entry); err != nil {
		res.LogErr = err
		d.logger.Error("failed to append email log", "to", to, "error", err)
	}

	body := d.deps.Bodies.Body(in.Text, in.HTML)
	if code, ok := d.deps.Codes.Extract(in.Subject + "\n" + body); ok {
		res.Code = code
	}

	text := d.deps.Formatter.FormatIncoming(user.LanguageCode, formatter.Incoming{
		From:      from,
		To:        to,
		Subject:   in.Subject,
		Body:      body,
		Code:      res.Code,
		AutoReply: account.AutoReplyEnabled,
	})
	if err := d.deps.Notifier.Notify(ctx, user.TelegramID, text); err != nil {
		res.NotifyErr = err
		d.logger.Error("failed to notify user", "telegram_id", user.TelegramID, "error", err)
	}

	if account.AutoReplyEnabled {
		res.AutoReply = d.autoReply(account, from, to, in)
		raw, err := email.BuildReply(email.Reply{
			From:      res.AutoReply.From,
			To:        res.AutoReply.To,
			Subject:   res.AutoReply.Subject,
			Body:      res.AutoReply.Message,
			InReplyTo: in.MessageID,
			Date:      d.deps.Approvals.Now(),
		})
		if err != nil {
			res.ReplyErr = err
			d.logger.Error("failed to build auto-reply", "to", from, "error", err)
		} else {
			res.AutoReply.Raw = raw
		}
	}

	d.logger.Info("email relayed",
		"to", to,
		"telegram_id", user.TelegramID,
		"auto_reply", res.AutoReply != nil,
		"code", res.Code != "",
	)
	return res, nil
}

func (d *Dispatcher) autoReply(account *models.EmailAccount, from, to string, in Inbound) *AutoReply {
	message := account.AutoReplyMessage
	if strings.TrimSpace(message) == "" {
		message = d.deps.Config.DefaultAutoReply
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = "(No Subject)"
	}
	return &AutoReply{
		Message: message,
		From:    to,
		To:      from,
		ReplyTo: from,
		Subject: "Re: " + subject,
	}
}
