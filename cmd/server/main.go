package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/kayquelen/tiktoktracking/internal/api"
	"github.com/kayquelen/tiktoktracking/internal/config"
	"github.com/kayquelen/tiktoktracking/internal/relay"
	"github.com/kayquelen/tiktoktracking/internal/store"
	"github.com/kayquelen/tiktoktracking/internal/tiktok"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	cfgPath := flag.String("config", "configs/config.yaml", "Path to YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if cfg.Stripe.WebhookSecret == "" {
		slog.Warn("webhook signature verification disabled: no stripe.webhook_secret configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Credential store / event log ─────────────────────────────────────────
	var st store.Store
	if cfg.Database.URL != "" {
		if err := runMigrations(cfg.Database.MigrationsDir, cfg.Database.URL); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		pg, err := store.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("using postgres credential store")
	} else {
		fs, err := store.NewFileStore(cfg.Database.CredentialsFile)
		if err != nil {
			slog.Error("failed to load credentials file", "err", err)
			os.Exit(1)
		}
		if _, err := fs.Watch(); err != nil {
			slog.Warn("credentials watcher unavailable (hot-reload disabled)", "err", err)
		}
		st = fs
		slog.Info("using file credential store", "path", cfg.Database.CredentialsFile)
	}
	defer st.Close()

	// ── Pipeline ─────────────────────────────────────────────────────────────
	client := tiktok.NewClient(cfg.TikTok.BaseURL, time.Duration(cfg.TikTok.TimeoutMs)*time.Millisecond)
	pipe := relay.New(cfg.Stripe.WebhookSecret, cfg.Stripe.DefaultManagerID, st, st, client)

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := api.New(pipe, st, client)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	slog.Info("goodbye")
}

func runMigrations(dir, databaseURL string) error {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
