package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"school-platform/internal/auth"
	"school-platform/internal/calls"
	"school-platform/internal/config"
	"school-platform/internal/directory"
	"school-platform/internal/feed"
	"school-platform/internal/flags"
	"school-platform/internal/httpapi"
	"school-platform/internal/media"
	"school-platform/internal/presence"
	"school-platform/internal/session"
	"school-platform/pkg/logger"
	"school-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	fl := flags.NewStatic(map[string]bool{
		flags.KeyVoiceCalls: cfg.Calls.VoiceEnabled,
		flags.KeyVideoCalls: cfg.Calls.VideoEnabled,
	})

	var mediaProvider media.Provider
	if cfg.CallsEnabled() {
		mediaProvider, err = media.NewStaticProvider(cfg.Calls.MeetingBaseURL)
		if err != nil {
			log.Error("media init failed", "err", err)
			os.Exit(1)
		}
	}

	fd, err := feed.NewRedisFeed(rdb, log, feed.RedisFeedOptions{})
	if err != nil {
		log.Error("feed init failed", "err", err)
		os.Exit(1)
	}

	registry, err := session.NewRegistry(session.RegistryConfig{
		Log:           log,
		CallStore:     calls.NewPostgresStore(db),
		PresenceStore: presence.NewPostgresStore(db),
		Feed:          fd,
		Media:         mediaProvider,
		Names:         directory.NewPostgresNames(db),
		Flags:         fl,
		PresenceOptions: presence.Options{
			FreshnessWindow: cfg.Presence.FreshnessWindow,
			AwayTimeout:     cfg.Presence.AwayTimeout,
			HeartbeatEvery:  cfg.Presence.HeartbeatEvery,
		},
		SessionOptions: session.Options{
			EndGraceDelay:        cfg.Calls.EndGraceDelay,
			MeetingURLRetryDelay: cfg.Calls.MeetingURLRetryDelay,
			RingTimeout:          cfg.Calls.RingTimeout,
		},
	})
	if err != nil {
		log.Error("session registry init failed", "err", err)
		os.Exit(1)
	}
	defer registry.Close()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:     authManager,
		Sessions: registry,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
