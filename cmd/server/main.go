package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/matchhub/matchhub/internal/api/http"
	"github.com/matchhub/matchhub/internal/application/dedup"
	"github.com/matchhub/matchhub/internal/application/matchmaker"
	"github.com/matchhub/matchhub/internal/application/reaper"
	"github.com/matchhub/matchhub/internal/config"
	"github.com/matchhub/matchhub/internal/domain/bot"
	"github.com/matchhub/matchhub/internal/domain/presence"
	"github.com/matchhub/matchhub/internal/domain/session"
	"github.com/matchhub/matchhub/internal/infrastructure/memory"
	"github.com/matchhub/matchhub/internal/infrastructure/postgres"
	"github.com/matchhub/matchhub/internal/infrastructure/redisstore"
	"github.com/matchhub/matchhub/internal/infrastructure/sse"
	"github.com/matchhub/matchhub/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx := context.Background()

	// session store
	var store session.Store
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db connect failed")
		}
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		store = postgres.NewSessionStore(pool, logger)
		logger.Info().Msg("using postgres session store")
	} else {
		store = memory.NewStore()
		logger.Info().Msg("using in-memory session store")
	}
	defer store.Close()

	// admission store
	var admissions dedup.AdmissionStore
	if cfg.RedisAddr != "" {
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), cfg.RedisDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect failed")
		}
		defer client.Close()
		admissions = redisstore.NewAdmissionStore(client)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis admission store")
	} else {
		admissions = dedup.NewMemoryAdmissionStore()
		logger.Info().Msg("using in-memory admission store")
	}

	// bot selection
	var strategy bot.Strategy = bot.SkillWeightedStrategy{}
	if cfg.BotSelectionRule != "" {
		ruled, err := bot.NewRuleStrategy(cfg.BotSelectionRule, strategy)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid bot selection rule")
		}
		strategy = ruled
	}
	pool := bot.NewStaticPool(bot.DefaultRoster())

	m := metrics.New(nil)
	guard := dedup.NewGuard(admissions, cfg.DedupTTL, cfg.DedupThrottle, logger)
	fallback := matchmaker.NewFallbackScheduler(store, pool, strategy, m, logger)
	matchSvc := matchmaker.NewService(store, guard, fallback, presence.NoopReporter{}, m, logger, matchmaker.Config{
		SessionTTL:          cfg.SessionTTL,
		FallbackWindow:      cfg.FallbackWindow,
		GuestFallbackWindow: cfg.GuestFallbackWindow,
	})

	sweeper, err := reaper.New(store, m, logger, cfg.ReaperInterval, cfg.PurgeGrace)
	if err != nil {
		logger.Fatal().Err(err).Msg("reaper init failed")
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("reaper start failed")
	}
	defer sweeper.Stop()

	sseHub := sse.NewHub()
	defer sseHub.Stop()

	apiServer := httpapi.NewServer(matchSvc, sseHub, logger, cfg.FindRateLimitRPM)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero; the SSE stream holds connections open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	fallback.Shutdown()
}
