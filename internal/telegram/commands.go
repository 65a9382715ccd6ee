package telegram

import (
	"context"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/mailrelay/mailrelay-bot/internal/locales"
	appmodels "github.com/mailrelay/mailrelay-bot/pkg/models"
)

// accessLevel who may run a command
type accessLevel int

const (
	accessPublic accessLevel = iota
	accessApproved
	accessOwner
)

// restOfLine marks commands whose last argument is free text
const restOfLine = -1

// request is a parsed command invocation
type request struct {
	msg  *models.Message
	user *appmodels.User
	name string
	args []string
	rest string // raw text after the command name
	lang string
}

func (r *request) chatID() int64 { return r.msg.Chat.ID }

type commandHandler func(ctx context.Context, req *request)

// command declares one bot command
type command struct {
	Name        string
	MinArgs     int
	MaxArgs     int
	Usage       string
	Description string
	Access      accessLevel
	Handler     commandHandler
}

func (b *Bot) commandTable() []*command {
	return []*command{
		{Name: "start", Usage: "/start", Description: "Register", Access: accessPublic, Handler: b.handleStart},
		{Name: "verify", Usage: "/verify", Description: "Request access", Access: accessPublic, Handler: b.handleVerify},
		{Name: "status", Usage: "/status", Description: "Show your access", Access: accessPublic, Handler: b.handleStatus},
		{Name: "help", Usage: "/help", Description: "List commands", Access: accessPublic, Handler: b.handleHelp},
		{Name: "setemail", MinArgs: 1, MaxArgs: 1, Usage: "/setemail you@example.com", Description: "Set your email", Access: accessApproved, Handler: b.handleSetEmail},
		{Name: "setreply", MinArgs: 1, MaxArgs: restOfLine, Usage: "/setreply on|off|message", Description: "Configure the auto-reply", Access: accessApproved, Handler: b.handleSetReply},
		{Name: "myemail", Usage: "/myemail", Description: "Show email settings", Access: accessApproved, Handler: b.handleMyEmail},
		{Name: "inbox", Usage: "/inbox", Description: "Recent emails", Access: accessApproved, Handler: b.handleInbox},

		{Name: "approve", MinArgs: 1, MaxArgs: 2, Usage: "/approve telegram_id [days]", Description: "Grant access", Access: accessOwner, Handler: b.handleApprove},
		{Name: "revoke", MinArgs: 1, MaxArgs: 1, Usage: "/revoke telegram_id", Description: "Remove access", Access: accessOwner, Handler: b.handleRevoke},
		{Name: "users", Usage: "/users", Description: "List users", Access: accessOwner, Handler: b.handleUsers},
		{Name: "broadcast", MinArgs: 1, MaxArgs: restOfLine, Usage: "/broadcast text", Description: "Message approved users", Access: accessOwner, Handler: b.handleBroadcast},
		{Name: "setinterval", MinArgs: 1, MaxArgs: 1, Usage: "/setinterval seconds", Description: "Set the polling interval", Access: accessOwner, Handler: b.handleSetInterval},
		{Name: "login", Usage: "/login", Description: "Sign in to the mailbox", Access: accessOwner, Handler: b.handleLogin},
		{Name: "pollstatus", Usage: "/pollstatus", Description: "Polling state", Access: accessOwner, Handler: b.handlePollStatus},
	}
}

// parseCommand splits "/name@bot arg1 arg2" into its parts
func parseCommand(text string) (name string, args []string, rest string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, "", false
	}
	fields := strings.Fields(text)
	name = strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, "", false
	}
	rest = strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
	return name, fields[1:], rest, true
}

func (c *command) acceptsArgs(n int) bool {
	if n < c.MinArgs {
		return false
	}
	return c.MaxArgs == restOfLine || n <= c.MaxArgs
}

// route registers the sender, then dispatches commands through the table
func (b *Bot) route(ctx context.Context, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		b.logger.Error("failed to register user", "telegram_id", msg.From.ID, "error", err)
		captureError(err, "register")
		return
	}

	name, args, rest, ok := parseCommand(msg.Text)
	if !ok {
		// plain text only registers the user
		return
	}

	req := &request{
		msg:  msg,
		user: user,
		name: name,
		args: args,
		rest: rest,
		lang: msg.From.LanguageCode,
	}

	cmd, found := b.commands[name]
	if !found {
		b.logger.Debug("unknown command", "text", msg.Text)
		b.handleHelp(ctx, req)
		return
	}

	l := b.texts(req)
	switch cmd.Access {
	case accessOwner:
		if !b.isOwner(msg.From.ID) {
			b.reply(ctx, req, l.T("OwnerOnly"))
			return
		}
	case accessApproved:
		if !b.isOwner(msg.From.ID) && !b.access.IsApproved(user) {
			b.reply(ctx, req, l.T("NotApproved"))
			return
		}
	}

	if !cmd.acceptsArgs(len(args)) {
		b.reply(ctx, req, l.T("Usage", map[string]any{"Usage": "<code>" + cmd.Usage + "</code>"}))
		return
	}

	b.logger.Debug("command", "name", name, "telegram_id", msg.From.ID)
	cmd.Handler(ctx, req)
}

func (b *Bot) isOwner(telegramID int64) bool {
	return telegramID == b.config.OwnerID
}

func (b *Bot) texts(req *request) *locales.Localizer {
	return b.formatter.Texts(req.lang)
}

// ensureUser upserts the Telegram profile and returns the user with expiry applied
func (b *Bot) ensureUser(ctx context.Context, from *models.User) (*appmodels.User, error) {
	_, err := b.access.Register(ctx, &appmodels.User{
		TelegramID:   from.ID,
		Username:     from.Username,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		LanguageCode: from.LanguageCode,
	})
	if err != nil {
		return nil, err
	}
	return b.access.Check(ctx, from.ID)
}
