package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofrs/flock"

	"rss_relay/internal/bot"
	"rss_relay/internal/config"
	"rss_relay/internal/fetcher"
	"rss_relay/internal/publisher"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/scraper"
	"rss_relay/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single relay cycle and exit")
	flag.Parse()

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

	lockPath := cfg.DatabasePath + ".lock"
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		log.Error("acquire lock", "path", lockPath, "error", err)
		os.Exit(1)
	}
	if !locked {
		log.Error("another relay instance is running", "lock", lockPath)
		os.Exit(1)
	}
	defer func() { _ = lock.Unlock() }()

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	chat, err := publisher.ParseChat(cfg.ChatID)
	if err != nil {
		log.Error("parse chat", "error", err)
		os.Exit(1)
	}

	// Long polling holds requests for up to a minute.
	apiClient := &http.Client{Timeout: 90 * time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, cfg.APIEndpoint, apiClient)
	if err != nil {
		log.Error("create bot api", "endpoint", cfg.APIEndpoint, "error", err)
		os.Exit(1)
	}
	log.Info("bot api ready", "username", api.Self.UserName)

	webClient := &http.Client{}
	pub := publisher.New(api, webClient, chat, publisher.Options{
		ProjectURL: cfg.ProjectURL,
		ParseMode:  cfg.ParseMode,
		UserAgent:  cfg.UserAgent,
		Referer:    cfg.ProjectURL,
	}, log)

	sc := scraper.New(webClient, scraper.Options{
		UserAgent:         cfg.UserAgent,
		Referer:           cfg.ProjectURL,
		Selector:          cfg.PostSelector,
		ModerationMarkers: cfg.ModerationMarkers,
		MaxImages:         cfg.MaxImages,
	})

	sched := scheduler.New(store, fetcher.New(webClient, cfg.UserAgent), sc, pub, scheduler.Options{
		FeedURL:       cfg.FeedURL,
		Schedule:      cfg.Schedule,
		MaxPushPerRun: cfg.MaxPushPerRun,
		SendDelay:     cfg.SendDelay,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		sum, err := sched.RunOnce(ctx)
		if err != nil {
			log.Error("run", "error", err)
			os.Exit(1)
		}
		log.Info("single run complete", "sent", sum.Sent, "held", sum.Held, "failed", sum.Failed)
		return
	}

	log.Info("starting relay", "feed", cfg.FeedURL, "chat", chat.String(), "schedule", cfg.Schedule)

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	if cfg.EnableCommands {
		b := bot.New(api, store, sched, cfg, log)
		go b.Run(ctx)
	}

	if err := <-done; err != nil {
		log.Error("scheduler", "error", err)
		os.Exit(1)
	}

	log.Info("relay stopped")
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
