package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

const generatorWorkerName = "generator"

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Queue        TransactionQueue
	IDGen        IDGenerator
	Metrics      WorkerMetrics // optional
	Logger       zerolog.Logger
	Interval     time.Duration
	Accounts     []string
	LocalRouting string
	// ExternalRouting, when set, makes every DepositEvery-th transaction a deposit
	// from that institution into a pool account.
	ExternalRouting string
	DepositEvery    int
	MinAmount       int64
	MaxAmount       int64
	Rand            *rand.Rand // optional
}

// Generator periodically synthesizes well-formed transactions and enqueues them
// for the submitter. It has no privileges beyond any other producer.
type Generator struct {
	queue           TransactionQueue
	idGen           IDGenerator
	metrics         WorkerMetrics
	logger          zerolog.Logger
	interval        time.Duration
	accounts        []string
	localRouting    string
	externalRouting string
	depositEvery    int
	minAmount       int64
	maxAmount       int64
	rng             *rand.Rand
	ticks           int
}

// NewGenerator validates the configuration and creates a Generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if len(cfg.Accounts) < 2 {
		return nil, errors.New("generator needs at least two accounts")
	}
	if cfg.MinAmount <= 0 || cfg.MaxAmount < cfg.MinAmount {
		return nil, fmt.Errorf("%w: amount range [%d, %d]", domain.ErrInvalidAmount, cfg.MinAmount, cfg.MaxAmount)
	}
	if cfg.ExternalRouting != "" && cfg.ExternalRouting == cfg.LocalRouting {
		return nil, fmt.Errorf("%w: external routing equals local routing", domain.ErrInvalidRouting)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.DepositEvery <= 0 {
		cfg.DepositEvery = 5
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	return &Generator{
		queue:           cfg.Queue,
		idGen:           cfg.IDGen,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger.With().Str("component", "generator").Logger(),
		interval:        cfg.Interval,
		accounts:        cfg.Accounts,
		localRouting:    cfg.LocalRouting,
		externalRouting: cfg.ExternalRouting,
		depositEvery:    cfg.DepositEvery,
		minAmount:       cfg.MinAmount,
		maxAmount:       cfg.MaxAmount,
		rng:             cfg.Rand,
	}, nil
}

// Start enqueues one transaction immediately and then one per interval
// until the context is cancelled.
func (g *Generator) Start(ctx context.Context) error {
	g.logger.Info().
		Dur("interval", g.interval).
		Int("accounts", len(g.accounts)).
		Msg("transaction generator started")

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			g.logger.Info().Msg("transaction generator shutting down")
			return ctx.Err()
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Generator) tick(ctx context.Context) {
	if _, err := g.GenerateOne(ctx); err != nil {
		g.metrics.MessageProcessed(generatorWorkerName, "failed")
		g.logger.Error().Err(err).Msg("failed to enqueue generated transaction")
		return
	}
	g.metrics.MessageProcessed(generatorWorkerName, "enqueued")
}

// GenerateOne builds one transaction and enqueues it.
func (g *Generator) GenerateOne(ctx context.Context) (*domain.Transaction, error) {
	tx := g.next()

	if err := domain.ValidateTransaction(tx, domain.ValidationRules{}); err != nil {
		return nil, fmt.Errorf("generated invalid transaction: %w", err)
	}

	messageID, err := g.queue.Enqueue(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("enqueue transaction: %w", err)
	}

	g.logger.Info().
		Str("message_id", messageID).
		Str("transaction_id", tx.TransactionID).
		Str("from_account", tx.FromAccount).
		Str("to_account", tx.ToAccount).
		Str("amount", domain.FormatMinorUnits(tx.Amount)).
		Msg("added transaction")

	return tx, nil
}

func (g *Generator) next() *domain.Transaction {
	g.ticks++

	from := g.rng.IntN(len(g.accounts))
	to := g.rng.IntN(len(g.accounts) - 1)
	if to >= from {
		to++
	}

	tx := &domain.Transaction{
		TransactionID: g.idGen.Generate(),
		FromAccount:   g.accounts[from],
		FromRouting:   g.localRouting,
		ToAccount:     g.accounts[to],
		ToRouting:     g.localRouting,
		Amount:        g.minAmount + g.rng.Int64N(g.maxAmount-g.minAmount+1),
		Timestamp:     time.Now().UTC(),
	}

	if g.externalRouting != "" && g.ticks%g.depositEvery == 1%g.depositEvery {
		tx.FromRouting = g.externalRouting
	}

	return tx
}
