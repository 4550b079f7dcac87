package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	httpAdapter "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/handler"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/middleware"
	postgresRepo "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/repository/postgres"
	redisRepo "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/repository/redis"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/auth"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/config"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/logger"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/metrics"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/postgres"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/redis"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

var errCatchingUp = errors.New("catching up with ledger")

func main() {
	// Load configuration
	cfg, err := config.LoadBalanceReader()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Setup logger
	log.Logger = logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).
		With().Str("service", "balancereader").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the ledger
	redisClient, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Ledger.Address(),
		Password: cfg.Ledger.Password,
		DB:       cfg.Ledger.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ledger")
	}
	defer redisClient.Close()
	log.Info().Str("addr", cfg.Ledger.Address()).Str("stream", cfg.Ledger.Stream).Msg("connected to ledger")

	registry := newRegistry()
	m := metrics.New(registry)

	store := redisRepo.NewStreamStore(redisClient, redisRepo.StreamConfig{
		Stream:       cfg.Ledger.Stream,
		BatchSize:    cfg.Ledger.ReadBatch,
		BlockTimeout: cfg.Ledger.BlockTimeout,
	})

	materializerCfg := usecase.MaterializerConfig{
		Store:           store,
		Metrics:         m,
		Logger:          log.Logger,
		LocalRouting:    cfg.LocalRouting,
		HistoryLimit:    cfg.HistoryLimit,
		CheckpointEvery: cfg.CheckpointEvery,
	}

	// Optional durable checkpoint
	if cfg.DatabaseURL != "" {
		if err := postgres.RunMigrations(cfg.DatabaseURL, log.Logger); err != nil {
			log.Fatal().Err(err).Msg("failed to run snapshot migrations")
		}

		pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DatabaseMaxConns,
			MinConns:    cfg.DatabaseMinConns,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to snapshot database")
		}
		defer pool.Close()

		materializerCfg.Snapshots = postgresRepo.NewSnapshotRepository(
			pool,
			postgresRepo.NewRetrier(log.Logger),
			cfg.Ledger.Stream,
			cfg.LocalRouting,
			logger.Component(log.Logger, "snapshots"),
		)
		log.Info().Msg("balance snapshots enabled")
	}

	materializer := usecase.NewBalanceMaterializer(materializerCfg)

	replayDone := make(chan error, 1)
	go func() {
		replayDone <- materializer.Run(ctx)
	}()

	var verifier middleware.TokenVerifier
	if cfg.AuthEnabled {
		jwtManager, err := auth.NewVerifier(cfg.JWTSecret, cfg.PubKeyPath, cfg.JWTExpiration)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load token verifier")
		}
		verifier = jwtManager
	}

	router := httpAdapter.NewBalanceRouter(httpAdapter.BalanceRouterConfig{
		CommonConfig: httpAdapter.CommonConfig{
			HealthHandler:  handler.NewHealthHandler(cfg.Version, materializer.Alive, readiness(materializer)),
			Logger:         logger.Component(log.Logger, "http"),
			Metrics:        m,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Verifier:       verifier,
		},
		BalanceHandler: handler.NewBalanceHandler(materializer, cfg.LegacyBalanceStatus, cfg.HistoryLimit),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-replayDone:
		if ctx.Err() == nil {
			// /healthz reports the stopped loop until the process is restarted
			log.Error().Err(err).Msg("replay loop exited")
			<-ctx.Done()
		}
	}

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Str("cursor", materializer.Cursor().String()).Msg("server stopped")
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

type readyReporter interface {
	Ready() bool
}

func readiness(r readyReporter) handler.Check {
	return func(context.Context) error {
		if !r.Ready() {
			return errCatchingUp
		}
		return nil
	}
}
