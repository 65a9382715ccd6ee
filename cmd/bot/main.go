package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lmittmann/tint"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/broadcast"
	"github.com/mailrelay/mailrelay-bot/internal/config"
	"github.com/mailrelay/mailrelay-bot/internal/database"
	"github.com/mailrelay/mailrelay-bot/internal/email"
	"github.com/mailrelay/mailrelay-bot/internal/formatter"
	"github.com/mailrelay/mailrelay-bot/internal/graph"
	"github.com/mailrelay/mailrelay-bot/internal/jsonstore"
	"github.com/mailrelay/mailrelay-bot/internal/locales"
	"github.com/mailrelay/mailrelay-bot/internal/parser"
	"github.com/mailrelay/mailrelay-bot/internal/poller"
	"github.com/mailrelay/mailrelay-bot/internal/ratelimit"
	"github.com/mailrelay/mailrelay-bot/internal/relay"
	"github.com/mailrelay/mailrelay-bot/internal/server"
	"github.com/mailrelay/mailrelay-bot/internal/settings"
	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting mail relay bot", "store", cfg.StoreDriver, "mail_source", cfg.MailSource)

	// Sentry is a no-op without a DSN
	if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
		logger.Error("failed to init sentry", "error", err)
		os.Exit(1)
	}
	defer sentry.Flush(2 * time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	texts, err := locales.New(cfg.Language)
	if err != nil {
		logger.Error("failed to load locales", "error", err)
		os.Exit(1)
	}

	// Create components
	tgFormatter := formatter.NewTelegramFormatter(texts)
	accessSvc := access.NewService(st)
	settingsSvc := settings.NewService(st, cfg.PollInterval)
	htmlParser := parser.NewHTMLParser()
	otpExtractor := parser.NewOTPExtractor()

	source, session, err := newMailSource(cfg, logger)
	if err != nil {
		logger.Error("failed to create mail source", "error", err)
		os.Exit(1)
	}

	botDeps := telegram.BotDeps{
		Config:    cfg,
		Store:     st,
		Access:    accessSvc,
		Settings:  settingsSvc,
		Formatter: tgFormatter,
		Logger:    logger,
	}
	if session != nil {
		botDeps.Login = session
	}
	bot, err := telegram.NewBot(botDeps)
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}
	messenger := bot.Messenger()

	broadcastSvc := broadcast.NewService(accessSvc, messenger, tgFormatter, st, logger)
	bot.SetBroadcaster(broadcastSvc)

	dispatcher := relay.NewDispatcher(relay.Deps{
		Accounts:  st,
		Users:     st,
		Logs:      st,
		Approvals: accessSvc,
		Notifier:  messenger,
		Formatter: tgFormatter,
		Bodies:    htmlParser,
		Codes:     otpExtractor,
		Config: relay.Config{
			RequireAutoReply: cfg.RequireAutoReply,
			DefaultAutoReply: cfg.DefaultAutoReply,
		},
		Logger: logger,
	})

	var wg sync.WaitGroup

	if source != nil {
		mailPoller := poller.New(poller.Deps{
			Source:     source,
			Recipients: accessSvc,
			Intervals:  settingsSvc,
			Notifier:   messenger,
			Formatter:  tgFormatter,
			Bodies:     htmlParser,
			Codes:      otpExtractor,
			OwnerID:    cfg.OwnerID,
			Logger:     logger,
		})
		bot.SetPoller(mailPoller)
		wg.Add(1)
		go func() {
			defer wg.Done()
			mailPoller.Run(ctx)
		}()
	}

	if err := bot.SetCommands(ctx); err != nil {
		logger.Warn("failed to set bot commands", "error", err)
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	wg.Add(1)
	go func() {
		defer wg.Done()
		limiter.Run(ctx)
	}()

	routerDeps := server.RouterDeps{
		Webhook: server.NewWebhookHandler(dispatcher, cfg.EmailWebhookToken, 0, logger),
		Admin: server.NewAdminHandler(server.AdminDeps{
			Store:       st,
			Access:      accessSvc,
			Settings:    settingsSvc,
			Broadcaster: broadcastSvc,
			Logger:      logger,
		}),
		Limiter:    limiter,
		BotToken:   cfg.TelegramToken,
		TrustProxy: cfg.TrustProxyHeaders,
	}
	if cfg.WebhookMode() {
		routerDeps.TelegramWebhook = bot.WebhookHandler()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.NewRouter(routerDeps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	// Start bot
	logger.Info("bot is running, press Ctrl+C to stop")
	if cfg.WebhookMode() {
		if err := bot.StartWebhook(ctx); err != nil {
			logger.Error("failed to start webhook", "error", err)
			cancel()
		}
	} else {
		bot.Start(ctx)
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	wg.Wait()
	if closer, ok := source.(*email.IMAPSource); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close imap connection", "error", err)
		}
	}

	logger.Info("bot stopped")
}

// openStore opens the configured backend and migrates SQL schemas
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreJSON:
		return jsonstore.Open(cfg.DataFile)
	case config.StorePostgres:
		return openDatabase(ctx, database.DriverPostgres, cfg.DatabaseURL)
	default:
		return openDatabase(ctx, database.DriverSQLite, cfg.DatabasePath)
	}
}

func openDatabase(ctx context.Context, driver, dsn string) (*database.DB, error) {
	db, err := database.New(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// newMailSource builds the poller source; both results are nil when polling is off.
// The session is returned for Graph so the bot can drive /login.
func newMailSource(cfg *config.Config, logger *slog.Logger) (poller.Source, *graph.Session, error) {
	switch cfg.MailSource {
	case config.SourceGraph:
		session, err := graph.NewSession(graph.SessionConfig{
			ClientID:     cfg.MSClientID,
			ClientSecret: cfg.MSClientSecret,
			TenantID:     cfg.MSTenantID,
			AuthorityURL: cfg.MSAuthorityURL,
			Mode:         cfg.MSAuthMode,
		})
		if err != nil {
			return nil, nil, err
		}
		client := graph.NewClient(graph.Config{
			BaseURL: cfg.MSGraphURL,
			Mailbox: cfg.MSUserEmail,
		}, session)
		return client, session, nil
	case config.SourceIMAP:
		return email.NewIMAPSource(email.IMAPConfig{
			Server:      cfg.IMAPServer,
			User:        cfg.IMAPUser,
			Password:    cfg.IMAPPassword,
			DialTimeout: cfg.IMAPDialTimeout,
		}, logger), nil, nil
	}
	return nil, nil, nil
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
