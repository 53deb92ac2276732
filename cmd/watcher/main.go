package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"reddit_watcher/internal/config"
	"reddit_watcher/internal/control"
	"reddit_watcher/internal/discord"
	"reddit_watcher/internal/pipeline"
	"reddit_watcher/internal/reddit"
	"reddit_watcher/internal/rules"
	"reddit_watcher/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ruleStore := rules.NewStore(store, cfg.Keywords, cfg.IncludeSubs, cfg.ExcludeSubs, cfg.AllowNSFW)

	var notifier pipeline.Notifier
	var bot *discord.Bot
	switch {
	case cfg.DirectPost():
		bot, err = discord.NewBot(cfg.DiscordBotToken, cfg.DiscordChannelID, store, log)
		if err != nil {
			log.Error("create discord bot", "error", err)
			os.Exit(1)
		}
		if err := bot.Open(); err != nil {
			log.Error("open discord session", "error", err)
			os.Exit(1)
		}
		defer func() { _ = bot.Close() }()
		notifier = bot
		log.Info("notifier ready", "mode", "direct-post", "channel_id", cfg.DiscordChannelID)
	case cfg.DiscordWebhook != "":
		notifier = discord.NewWebhook(http.DefaultClient, cfg.DiscordWebhook, log)
		log.Info("notifier ready", "mode", "webhook")
	default:
		log.Error("no notifier configured: set DISCORD_BOT_TOKEN+DISCORD_CHANNEL_ID or DISCORD_WEBHOOK")
		os.Exit(1)
	}

	client := reddit.NewClient(http.DefaultClient, cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditUserAgent)
	reader := reddit.NewReader(client, cfg.IncludeSubs, log)

	pipe := pipeline.New(store, ruleStore, notifier, log)
	pipe.SetRefreshInterval(cfg.RefreshInterval)

	ctrl := control.New(cfg.ControlAddr, pipe.Refresh, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := ctrl.Run(ctx); err != nil {
			log.Error("control server", "error", err)
		}
	}()

	log.Info("starting watcher",
		"target", reddit.Target(cfg.IncludeSubs),
		"exclude", strings.Join(cfg.ExcludeSubs, ","),
		"nsfw", cfg.AllowNSFW,
		"keywords", cfg.Keywords)

	if err := pipe.Run(ctx, reader.Stream(ctx)); err != nil {
		log.Error("pipeline", "error", err)
		os.Exit(1)
	}
	if err := reader.Err(); err != nil {
		log.Error("stream stopped", "error", err)
		os.Exit(1)
	}

	log.Info("watcher stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
