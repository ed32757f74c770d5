package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/untold/layout-service/internal/audit"
	"github.com/untold/layout-service/internal/config"
	"github.com/untold/layout-service/internal/infrastructure/postgres"
	"github.com/untold/layout-service/internal/infrastructure/rabbitmq"
	"github.com/untold/layout-service/internal/infrastructure/redis"
	"github.com/untold/layout-service/internal/pkg/logger"
	"github.com/untold/layout-service/internal/rl"
	"github.com/untold/layout-service/internal/security"
	"github.com/untold/layout-service/internal/service"
	"github.com/untold/layout-service/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// logger.Init reads LOG_LEVEL from env; make cfg.LogLevel take effect
	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "layout-service").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	repo := postgres.New(dbPool)

	// ---- Redis ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort ping; the service degrades without redis rather than dying
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Policy serving ----
	space, err := rl.NewActionSpace(cfg.GridRows, cfg.GridCols)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid grid config")
	}

	var policy rl.Policy
	if cfg.PolicyCheckpoint != "" {
		lp, err := rl.LoadLinearPolicy(space, cfg.PolicyCheckpoint)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.PolicyCheckpoint).Msg("policy checkpoint load failed")
		}
		policy = lp
		log.Info().Str("path", cfg.PolicyCheckpoint).Msg("linear policy loaded")
	} else {
		policy = rl.NewRoundRobinPolicy(space)
		log.Warn().Msg("no POLICY_CHECKPOINT configured, serving round-robin placements")
	}

	// ---- Reward event publisher ----
	var publisher *rabbitmq.Publisher
	if cfg.PublishRewards {
		publisher = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		defer publisher.Close()
	} else {
		log.Info().Msg("reward publishing disabled")
	}

	// ---- Application service ----
	deps := service.Deps{
		Profiles: repo,
		Cards:    repo,
		Layouts:  repo,
		Rewards:  repo,

		Cache: cache,

		Encoder: rl.NewStateEncoder(log),
		Policy:  policy,
		Reward:  rl.NewRewardModel(),
		Space:   space,

		Audit:      audit.New(log),
		Log:        log,
		ProfileTTL: cfg.CacheProfileTTL,
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	svc := service.NewLayoutService(deps)
	h := rest.NewHandler(svc)

	// ---- JWT verifier ----
	verifier := security.NewHS256Verifier(cfg.JWTSecret)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Cache:     cache,
		Handler:   h,
		Verifier:  verifier,
		JWTIssuer: cfg.JWTIssuer,

		RateLimit:       cfg.RLLimit,
		RateLimitWindow: cfg.RLWindow,
	})

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
