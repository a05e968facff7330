package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"content_radar/internal/api"
	"content_radar/internal/config"
	"content_radar/internal/crawler"
	"content_radar/internal/metrics"
	"content_radar/internal/model"
	"content_radar/internal/notify"
	"content_radar/internal/source"
	"content_radar/internal/storage"
)

func main() {
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

	registry := buildRegistry(cfg, log)

	var notifier crawler.Notifier
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Error("create telegram notifier", "error", err)
			os.Exit(1)
		}
		notifier = tg
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	orchestrator := crawler.New(registry, store, m, notifier, log)

	server := api.NewServer(orchestrator, store, cfg.Crawl, log)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		orchestrator.StopAll()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", "addr", cfg.ListenAddr, "sources", registry.IDs())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func buildRegistry(cfg *config.Config, log *slog.Logger) *source.Registry {
	registry := source.NewRegistry(
		source.NewGitHub(nil, log),
		source.NewHackerNews(nil, log),
		source.NewArxiv(nil),
	)
	for _, feed := range cfg.RSSFeeds {
		registry.Register(source.NewRSS(
			model.SourceID(feed.ID), feedTier(feed.Tier), feed.URL, nil))
	}
	return registry
}

func feedTier(raw string) model.SourceTier {
	switch model.SourceTier(strings.ToLower(raw)) {
	case model.TierAcademic:
		return model.TierAcademic
	case model.TierCommunity:
		return model.TierCommunity
	case model.TierSocial:
		return model.TierSocial
	default:
		return model.TierCurated
	}
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
