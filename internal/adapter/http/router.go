package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/handler"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/middleware"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

// CommonConfig holds dependencies shared by every router.
type CommonConfig struct {
	HealthHandler  *handler.HealthHandler
	Logger         zerolog.Logger
	Metrics        middleware.RequestMetrics // optional
	MetricsHandler http.Handler              // optional, served on /metrics
	Verifier       middleware.TokenVerifier  // optional, enables bearer auth
}

// BalanceRouterConfig holds dependencies for the balance reader router.
type BalanceRouterConfig struct {
	CommonConfig
	BalanceHandler *handler.BalanceHandler
}

// WriterRouterConfig holds dependencies for the ledger writer router.
type WriterRouterConfig struct {
	CommonConfig
	TransactionHandler *handler.TransactionHandler
	IdempotencyStore   usecase.IdempotencyStore // optional
	IdempotencyTTL     time.Duration
	RateLimiter        *middleware.RateLimiter // optional
}

func newBaseRouter(cfg CommonConfig) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	// Health endpoints
	r.Get("/healthz", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	r.Get("/version", cfg.HealthHandler.Version)

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	return r
}

func withAuth(r chi.Router, verifier middleware.TokenVerifier) chi.Router {
	if verifier == nil {
		return r
	}
	return r.With(middleware.AuthMiddleware(verifier))
}

// NewBalanceRouter creates the balance reader HTTP router.
func NewBalanceRouter(cfg BalanceRouterConfig) http.Handler {
	r := newBaseRouter(cfg.CommonConfig)

	api := withAuth(r, cfg.Verifier)
	api.Get("/get_balance", cfg.BalanceHandler.GetBalance)
	api.Get("/transactions/{accountID}", cfg.BalanceHandler.History)

	return r
}

// NewWriterRouter creates the ledger writer HTTP router.
func NewWriterRouter(cfg WriterRouterConfig) http.Handler {
	r := newBaseRouter(cfg.CommonConfig)

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}
		if cfg.Verifier != nil {
			r.Use(middleware.AuthMiddleware(cfg.Verifier))
		}
		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL).Wrap)
		}

		r.Post("/new_transaction", cfg.TransactionHandler.Create)
	})

	return r
}

// NewOpsRouter serves only the health, version and metrics endpoints.
func NewOpsRouter(cfg CommonConfig) http.Handler {
	return newBaseRouter(cfg)
}
