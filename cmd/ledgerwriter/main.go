package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/balanceclient"
	httpAdapter "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/handler"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/middleware"
	postgresRepo "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/repository/postgres"
	redisRepo "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/repository/redis"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/auth"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/config"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/logger"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/metrics"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/redis"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/resilience"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

const limiterCleanupInterval = time.Hour

func main() {
	// Load configuration
	cfg, err := config.LoadLedgerWriter()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Setup logger
	log.Logger = logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).
		With().Str("service", "ledgerwriter").Logger()

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize repositories
	store := redisRepo.NewStreamStore(redisClient, redisRepo.StreamConfig{Stream: cfg.Ledger.Stream}).
		WithBreaker(resilience.NewBreaker(breakerConfig("ledger", cfg), m, log.Logger))
	idempotencyStore := redisRepo.NewIdempotencyStore(redisClient)

	ucCfg := usecase.TransactionUseCaseConfig{
		Store:          store,
		Idempotency:    idempotencyStore,
		IDGen:          postgresRepo.NewULIDGenerator(),
		Metrics:        m,
		Logger:         log.Logger,
		LocalRouting:   cfg.LocalRouting,
		Rules:          domain.ValidationRules{StrictFormat: cfg.StrictAccountFormat},
		SubmitTimeout:  cfg.SubmitTimeout,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	// Queued transactions carry no token and the reader rejects them when auth is on.
	ucCfg.FundsCheckNeedsCredential = cfg.AuthEnabled
	if cfg.BalancesAPIAddr != "" {
		ucCfg.Balances = balanceclient.New(cfg.BalancesAPIAddr, cfg.BalancesTimeout).
			WithBreaker(resilience.NewBreaker(breakerConfig("balances", cfg), m, log.Logger))
		log.Info().Str("addr", cfg.BalancesAPIAddr).Msg("sufficient-funds check enabled")
	}
	submitter := usecase.NewTransactionUseCase(ucCfg)

	var wg sync.WaitGroup

	// Unconfirmed queue intake
	if cfg.Intake.Enabled() {
		queue, closeQueue := openIntakeQueue(ctx, cfg.Intake)
		defer closeQueue()

		worker := usecase.NewIntakeWorker(queue, submitter, m, log.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil {
				log.Error().Err(err).Msg("intake worker stopped")
			}
		}()
	}

	var verifier middleware.TokenVerifier
	if cfg.AuthEnabled {
		jwtManager, err := auth.NewVerifier(cfg.JWTSecret, cfg.PubKeyPath, cfg.JWTExpiration)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load token verifier")
		}
		verifier = jwtManager
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).OnLimited(m.RateLimited)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanupLimiters(ctx, rateLimiter, limiterCleanupInterval)
	}()

	router := httpAdapter.NewWriterRouter(httpAdapter.WriterRouterConfig{
		CommonConfig: httpAdapter.CommonConfig{
			HealthHandler:  handler.NewHealthHandler(cfg.Version, nil, store.Ping),
			Logger:         logger.Component(log.Logger, "http"),
			Metrics:        m,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Verifier:       verifier,
		},
		TransactionHandler: handler.NewTransactionHandler(submitter, logger.Component(log.Logger, "http")),
		IdempotencyStore:   idempotencyStore,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		RateLimiter:        rateLimiter,
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

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	wg.Wait()
	log.Info().Msg("server stopped")
}

func breakerConfig(name string, cfg *config.LedgerWriter) resilience.BreakerConfig {
	bc := resilience.DefaultBreakerConfig(name)
	bc.ConsecutiveFailures = cfg.BreakerFailures
	bc.Timeout = cfg.BreakerTimeout
	return bc
}

func openIntakeQueue(ctx context.Context, cfg config.Intake) (*redisRepo.Queue, func()) {
	client, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to unconfirmed queue")
	}

	queue := redisRepo.NewQueue(client, redisRepo.QueueConfig{
		Stream:   cfg.Stream,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
	})
	if err := queue.EnsureGroup(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create consumer group")
	}

	log.Info().
		Str("addr", cfg.Address()).
		Str("stream", cfg.Stream).
		Str("group", cfg.Group).
		Str("consumer", cfg.Consumer).
		Msg("consuming unconfirmed queue")

	return queue, func() { client.Close() }
}

type limiterCleaner interface {
	CleanupLimiters()
}

func cleanupLimiters(ctx context.Context, rl limiterCleaner, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.CleanupLimiters()
			log.Debug().Msg("rate limiters reset")
		}
	}
}
