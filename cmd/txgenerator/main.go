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
	postgresRepo "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/repository/postgres"
	redisRepo "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/repository/redis"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/config"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/logger"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/metrics"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/redis"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

func main() {
	cfg, err := config.LoadGenerator()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Logger = logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).
		With().Str("service", "txgenerator").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Unconf.Address(),
		Password: cfg.Unconf.Password,
		DB:       cfg.Unconf.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to unconfirmed queue")
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	queue := redisRepo.NewQueue(redisClient, redisRepo.QueueConfig{Stream: cfg.Unconf.Stream})

	generator, err := usecase.NewGenerator(generatorConfig(cfg, queue, m))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid generator configuration")
	}

	router := httpAdapter.NewOpsRouter(httpAdapter.CommonConfig{
		HealthHandler:  handler.NewHealthHandler(cfg.Version, nil, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		Logger:         logger.Component(log.Logger, "http"),
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
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

	log.Info().
		Str("stream", cfg.Unconf.Stream).
		Dur("interval", cfg.Interval).
		Strs("accounts", cfg.Accounts).
		Msg("generating transactions")

	if err := generator.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("generator stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("generator stopped")
}

func generatorConfig(cfg *config.Generator, queue usecase.TransactionQueue, m usecase.WorkerMetrics) usecase.GeneratorConfig {
	return usecase.GeneratorConfig{
		Queue:           queue,
		IDGen:           postgresRepo.NewULIDGenerator(),
		Metrics:         m,
		Logger:          log.Logger,
		Interval:        cfg.Interval,
		Accounts:        cfg.Accounts,
		LocalRouting:    cfg.RoutingNum,
		ExternalRouting: cfg.ExternalRouting,
		DepositEvery:    cfg.DepositEvery,
		MinAmount:       cfg.MinAmount,
		MaxAmount:       cfg.MaxAmount,
	}
}
