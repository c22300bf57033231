package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/affiliate-tracker/internal/application/attribution"
	"github.com/baechuer/affiliate-tracker/internal/application/click"
	"github.com/baechuer/affiliate-tracker/internal/application/redirect"
	"github.com/baechuer/affiliate-tracker/internal/application/webhook"
	"github.com/baechuer/affiliate-tracker/internal/config"
	rediscache "github.com/baechuer/affiliate-tracker/internal/infrastructure/caching/redis"
	"github.com/baechuer/affiliate-tracker/internal/infrastructure/db/migrations"
	"github.com/baechuer/affiliate-tracker/internal/infrastructure/db/postgres"
	rabbitpub "github.com/baechuer/affiliate-tracker/internal/infrastructure/messaging/rabbitmq"
	"github.com/baechuer/affiliate-tracker/internal/logger"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
	"github.com/baechuer/affiliate-tracker/internal/security/signature"
	"github.com/baechuer/affiliate-tracker/internal/transport/http/handlers"
	"github.com/baechuer/affiliate-tracker/internal/transport/http/router"
)

const prewarmTimeout = 30 * time.Second

// App holds all dependencies for the service
type App struct {
	Config *config.Config
	Server *http.Server
	DB     *sql.DB

	Repo      *postgres.Repo
	Cache     *rediscache.Client
	Publisher postgres.OutboxPublisher
	Rabbit    *rabbitpub.Publisher
	Metrics   *metrics.Metrics

	Links    *redirect.Service
	Recorder *click.Recorder
}

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config load failed")
	}

	if u, err := url.Parse(cfg.DatabaseURL); err == nil {
		zlog.Info().
			Str("db_user", u.User.Username()).
			Str("db_host", u.Host).
			Str("db_db", u.Path).
			Msg("db config loaded")
	}

	db, err := config.NewDB(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()

	if cfg.DBAutoMigrate {
		if err := migrate(cfg.DatabaseURL); err != nil {
			zlog.Fatal().Err(err).Msg("migrations failed")
		}
	}

	app := NewApp(cfg, db)
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background work outlives the signal so queued clicks can drain
	// after the server stops accepting requests.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	app.Recorder.Start(workCtx)
	outboxDone := app.Repo.StartOutboxWorker(workCtx, app.Publisher, app.Metrics)
	listenerDone := app.startLinkListener(workCtx)
	go app.prewarm(workCtx)

	serverErr := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		zlog.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			zlog.Error().Err(err).Msg("server crashed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("server shutdown failed")
	}

	app.Recorder.Stop()
	cancelWork()
	<-outboxDone
	<-listenerDone
	zlog.Info().Msg("stopped")
}

func migrate(databaseURL string) error {
	mg, err := migrations.New(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := mg.Close(); err != nil {
			zlog.Warn().Err(err).Msg("close migrator")
		}
	}()
	return mg.Up()
}

func NewApp(cfg *config.Config, db *sql.DB) *App {
	m := metrics.New()

	// 1) Infrastructure
	repo := postgres.New(db)

	// A nil *Client must not reach the interfaces below as a non-nil value.
	var (
		cache    *rediscache.Client
		linkC    redirect.Cache
		velocity click.VelocityCounter
	)
	if cfg.RedisURL != "" {
		c, err := rediscache.New(cfg.RedisURL)
		if err != nil {
			zlog.Warn().Err(err).Msg("redis unavailable: serving redirects from the store only")
		} else {
			cache, linkC, velocity = c, c, c
		}
	} else {
		zlog.Warn().Msg("REDIS_URL empty: link cache and velocity checks disabled")
	}

	var rabbit *rabbitpub.Publisher
	var pub postgres.OutboxPublisher = rabbitpub.NoopPublisher{}
	if cfg.RabbitURL != "" {
		p, err := rabbitpub.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			zlog.Fatal().Err(err).Msg("rabbit publisher init failed")
		}
		rabbit = p
		pub = p
		zlog.Info().Str("exchange", cfg.RabbitExchange).Msg("rabbit publisher ready")
	} else {
		zlog.Warn().Msg("RABBIT_URL empty: conversion events will not be published")
	}

	// 2) Application
	links := redirect.New(repo, linkC, m, redirect.Options{
		CacheTTL:                cfg.CacheLinkTTL,
		StoreTimeout:            cfg.RedirectStoreTimeout,
		DefaultCookieWindowDays: cfg.DefaultCookieWindowDays,
	})
	scorer := click.NewFraudScorer(velocity, cfg.ClickVelocityLimit, cfg.ClickVelocityWindow)
	recorder := click.NewRecorder(repo, scorer, m, click.Options{
		QueueSize:   cfg.ClickQueueSize,
		Workers:     cfg.ClickWorkers,
		MaxAttempts: cfg.ClickMaxAttempts,
		IPHashSalt:  cfg.IPHashSalt,
		OnFailure: func(clickID string, in click.Input, err error) {
			zlog.Error().Err(err).
				Str("click_id", clickID).
				Str("link_id", in.LinkID).
				Msg("click_dropped: retries exhausted")
		},
	})
	attributor := attribution.New(cfg.PlatformFeeRate, m)
	webhooks := webhook.New(repo, attributor, m)
	verifier := signature.NewVerifier(signatureProviders(cfg), cfg.SecretFor,
		signature.WithMaxAge(cfg.WebhookSignatureMaxAge))

	// 3) Transport
	rh := handlers.NewRedirectHandler(links, recorder, handlers.RedirectOptions{
		CookiePrefix: cfg.CookiePrefix,
		NotFoundURL:  cfg.RedirectNotFoundURL,
	})
	wh := handlers.NewWebhookHandler(webhooks, verifier, m, handlers.WebhookOptions{
		MaxBodyBytes:  cfg.WebhookMaxBodyBytes,
		AllowUnsigned: cfg.WebhookAllowUnsigned,
	})
	checks := []handlers.Check{{Name: "database", Ping: repo.Ping}}
	if cache != nil {
		checks = append(checks, handlers.Check{Name: "cache", Ping: cache.Ping})
	}
	z := handlers.NewHealthHandler(checks...)

	// 4) Router
	httpHandler := router.New(rh, wh, z, m, cfg)

	// 5) Server
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &App{
		Config:    cfg,
		Server:    srv,
		DB:        db,
		Repo:      repo,
		Cache:     cache,
		Publisher: pub,
		Rabbit:    rabbit,
		Metrics:   m,
		Links:     links,
		Recorder:  recorder,
	}
}

func (a *App) Close() {
	if a.Rabbit != nil {
		_ = a.Rabbit.Close()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
}

// startLinkListener evicts cached links on change notifications. The
// returned channel closes once the listener has stopped.
func (a *App) startLinkListener(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if a.Cache == nil || !a.Config.CacheInvalidationEnabled {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		l := postgres.NewLinkListener(a.Config.DatabaseURL, a.Links)
		if err := l.Run(ctx); err != nil {
			zlog.Warn().Err(err).Msg("link listener stopped: cached links expire by TTL only")
		}
	}()
	return done
}

func (a *App) prewarm(ctx context.Context) {
	if a.Cache == nil || a.Config.CachePrewarmLimit <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, prewarmTimeout)
	defer cancel()

	n, err := a.Links.Prewarm(ctx, a.Config.CachePrewarmLimit)
	if err != nil {
		zlog.Warn().Err(err).Int("warmed", n).Msg("cache prewarm incomplete")
		return
	}
	zlog.Info().Int("warmed", n).Msg("cache prewarmed")
}

func signatureProviders(cfg *config.Config) map[string]signature.Provider {
	out := make(map[string]signature.Provider, len(cfg.WebhookProviders))
	for name, p := range cfg.WebhookProviders {
		out[name] = signature.Provider{
			Header:          p.Header,
			Scheme:          p.Scheme,
			Algorithm:       p.Algorithm,
			TimestampHeader: p.TimestampHeader,
		}
	}
	return out
}
