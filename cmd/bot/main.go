package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"personabot/internal/config"
	"personabot/internal/conversation"
	"personabot/internal/dedupe"
	"personabot/internal/generator"
	"personabot/internal/httpserver"
	"personabot/internal/metrics"
	"personabot/internal/providers/registry"
	"personabot/internal/router"
	"personabot/internal/storage"
	"personabot/internal/telegram"
	"personabot/internal/worker"
)

func main() {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Settings.LogLevel, cfg.Settings.LogFormat)
	for _, w := range cfg.Warnings {
		log.Warn().Str("component", "config").Msg(w)
	}
	log.Info().
		Str("mode", cfg.Mode()).
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Str("bot_name", cfg.Personality.Name).
		Msg("starting personabot")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.Global()

	var (
		usageLedger  generator.UsageRecorder
		routerLedger router.Ledger
	)
	if cfg.Storage.Driver != "" {
		store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.AutoMigrate)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize storage")
		}
		defer store.Close()
		usageLedger, routerLedger = store, store
		log.Info().Str("driver", store.Driver()).Msg("usage ledger enabled")
	}

	var dedup dedupe.Deduplicator
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		dedup = dedupe.NewRedis(rdb, cfg.Redis.UpdateTTL)
	} else {
		dedup = dedupe.NewMemory(cfg.Redis.UpdateTTL)
	}

	bot, err := gotgbot.NewBot(cfg.Bot.Token, nil)
	if err != nil {
		log.Fatal().Msg("failed to create telegram bot: " + sanitizeTelegramErr(err, cfg.Bot.Token))
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	gen := generator.New(generator.Config{
		LLM:         cfg.LLM,
		Personality: *cfg.Personality,
		Registry:    registry.Default(),
		Metrics:     m,
		Ledger:      usageLedger,
		Logger:      log.With().Str("component", "generator").Logger(),
	})

	rt := router.New(router.Config{
		Settings:  cfg.Settings,
		BotName:   cfg.Personality.Name,
		Provider:  cfg.LLM.Provider,
		Store:     conversation.NewMemoryStore(cfg.Settings.MaxHistory),
		Generator: gen,
		Sender:    telegram.NewSender(bot),
		Ledger:    routerLedger,
		Metrics:   m,
		Logger:    log.With().Str("component", "router").Logger(),
	})

	lanes := worker.New(worker.Config{
		Lanes:   cfg.Server.Lanes,
		Logger:  log.With().Str("component", "lanes").Logger(),
		Metrics: m,
	})

	errCh := make(chan error, 4)
	go func() {
		if err := lanes.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("lanes failed: %w", err)
		}
	}()

	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.Bot.Token))
	}
	service := telegram.NewService(telegram.Config{
		Router:        rt,
		Lanes:         lanes,
		Logger:        log.With().Str("component", "telegram").Logger(),
		BotUsername:   bot.User.Username,
		CommandPrefix: cfg.Settings.CommandPrefix,
	})
	dispatcher := telegram.NewDispatcher(telegram.Processor{
		Dedupe:   dedup,
		Messages: service,
		Metrics:  m,
		Logger:   log.With().Str("component", "telegram").Logger(),
	}, logTelegramErr)

	telegram.CheckChannels(ctx, bot, cfg.Channels, log.With().Str("component", "channels").Logger())

	var updater *ext.Updater
	var updates httpserver.UpdateHandler
	switch cfg.Mode() {
	case config.ModeWebhook:
		hookURL := webhookURL(cfg.Bot.Webhook.URL, cfg.Server.WebhookPath)
		if _, err := bot.SetWebhookWithContext(ctx, hookURL, &gotgbot.SetWebhookOpts{
			DropPendingUpdates: false,
			// One connection keeps Telegram's delivery order.
			MaxConnections: 1,
		}); err != nil {
			log.Fatal().Msg("failed to set telegram webhook: " + sanitizeTelegramErr(err, cfg.Bot.Token))
		}
		updates = &telegram.UpdateHandler{Bot: bot, Dispatcher: dispatcher}
		log.Info().Str("webhook_url", hookURL).Msg("webhook registered")
	default:
		updater = ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
			UnhandledErrFunc: logTelegramErr,
		})
		if err := updater.StartPolling(bot, &ext.PollingOpts{
			EnableWebhookDeletion: true,
			GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
				Timeout: int64(cfg.Bot.Polling.Timeout),
				RequestOpts: &gotgbot.RequestOpts{
					Timeout: time.Duration(cfg.Bot.Polling.Timeout+10) * time.Second,
				},
			},
		}); err != nil {
			log.Fatal().Msg("failed to start polling: " + sanitizeTelegramErr(err, cfg.Bot.Token))
		}
		log.Info().Msg("polling mode started")
	}

	httpServer := httpserver.New(cfg.ListenAddr(), httpserver.NewRouter(httpserver.Config{
		Mode:           cfg.Mode(),
		WebhookEnabled: cfg.Bot.Webhook.Enabled,
		WebhookPath:    cfg.Server.WebhookPath,
		HealthPath:     cfg.Server.HealthPath,
		MetricsPath:    cfg.Server.MetricsPath,
		Updates:        updates,
		Logger:         log.Logger,
	}))
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if updater != nil {
		if err := updater.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop updater")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

// webhookURL appends the webhook path to the public base URL unless it is already there.
func webhookURL(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

func setupLogger(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	if strings.EqualFold(format, "console") {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
