package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/oauth2"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/broadcast"
	"github.com/mailrelay/mailrelay-bot/internal/config"
	"github.com/mailrelay/mailrelay-bot/internal/formatter"
	"github.com/mailrelay/mailrelay-bot/internal/poller"
	"github.com/mailrelay/mailrelay-bot/internal/settings"
	"github.com/mailrelay/mailrelay-bot/internal/store"
)

// Broadcaster sends owner announcements
type Broadcaster interface {
	Send(ctx context.Context, text string, sentBy int64) (*broadcast.Result, error)
}

// PollControl exposes the poller to owner commands
type PollControl interface {
	Status() poller.Status
	Resume()
}

// LoginFlow signs the mail poller back in to Microsoft
type LoginFlow interface {
	Mode() string
	StartDeviceLogin(ctx context.Context) (*oauth2.DeviceAuthResponse, error)
	CompleteDeviceLogin(ctx context.Context, resp *oauth2.DeviceAuthResponse) error
	Login(ctx context.Context) error
}

// Bot represents the Telegram bot
type Bot struct {
	bot       *bot.Bot
	api       Sender
	store     store.Store
	access    *access.Service
	settings  *settings.Service
	formatter *formatter.TelegramFormatter
	broadcast Broadcaster
	poller    PollControl
	login     LoginFlow
	config    *config.Config
	logger    *slog.Logger

	commands map[string]*command
	ordered  []*command

	// background logins
	wg sync.WaitGroup
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Config    *config.Config
	Store     store.Store
	Access    *access.Service
	Settings  *settings.Service
	Formatter *formatter.TelegramFormatter
	Login     LoginFlow // nil unless polling Microsoft Graph
	Logger    *slog.Logger
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	b := newBot(deps)

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}
	if deps.Config.TelegramWebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(deps.Config.TelegramWebhookSecret))
	}

	tgBot, err := bot.New(deps.Config.TelegramToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	b.bot = tgBot
	b.api = tgBot
	b.registerHandlers()

	return b, nil
}

func newBot(deps BotDeps) *Bot {
	b := &Bot{
		store:     deps.Store,
		access:    deps.Access,
		settings:  deps.Settings,
		formatter: deps.Formatter,
		login:     deps.Login,
		config:    deps.Config,
		logger:    deps.Logger.With("component", "telegram_bot"),
		commands:  make(map[string]*command),
	}
	for _, c := range b.commandTable() {
		b.commands[c.Name] = c
		b.ordered = append(b.ordered, c)
	}
	return b
}

// SetBroadcaster wires the broadcast service, which itself sends through this bot
func (b *Bot) SetBroadcaster(bc Broadcaster) {
	b.broadcast = bc
}

// SetPoller wires the mail poller
func (b *Bot) SetPoller(p PollControl) {
	b.poller = p
}

// Messenger returns a notifier sending through this bot
func (b *Bot) Messenger() *Messenger {
	return NewMessenger(b.api)
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	for _, c := range b.ordered {
		b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/"+c.Name, bot.MatchTypePrefix, b.handleCommand)
	}
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start runs long polling until ctx is done
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot", "mode", "polling")
	if _, err := b.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		b.logger.Warn("failed to delete webhook", "error", err)
	}
	b.bot.Start(ctx)
	b.wg.Wait()
}

// StartWebhook registers the webhook URL and processes pushed updates until ctx is done
func (b *Bot) StartWebhook(ctx context.Context) error {
	b.logger.Info("starting telegram bot", "mode", "webhook", "url", b.config.TelegramWebhookURL)
	_, err := b.bot.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         b.config.TelegramWebhookURL,
		SecretToken: b.config.TelegramWebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	b.bot.StartWebhook(ctx)
	b.wg.Wait()
	return nil
}

// WebhookHandler returns the HTTP handler receiving Telegram updates
func (b *Bot) WebhookHandler() http.HandlerFunc {
	return b.bot.WebhookHandler()
}

// SetCommands publishes the command menu; owner commands only in the owner's chat
func (b *Bot) SetCommands(ctx context.Context) error {
	var public, all []models.BotCommand
	for _, c := range b.ordered {
		bc := models.BotCommand{Command: c.Name, Description: c.Description}
		all = append(all, bc)
		if c.Access != accessOwner {
			public = append(public, bc)
		}
	}

	if _, err := b.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: public}); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}
	_, err := b.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: all,
		Scope:    &models.BotCommandScopeChat{ChatID: b.config.OwnerID},
	})
	if err != nil {
		return fmt.Errorf("failed to set owner commands: %w", err)
	}
	return nil
}

// handleCommand handles every registered command
func (b *Bot) handleCommand(ctx context.Context, _ *bot.Bot, update *models.Update) {
	b.route(ctx, update)
}

// defaultHandler handles plain text and unknown commands
func (b *Bot) defaultHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.route(ctx, update)
}
