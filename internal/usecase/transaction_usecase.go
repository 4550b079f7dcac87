package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// TransactionUseCase is the gatekeeper between submitted payments and the ledger store.
type TransactionUseCase struct {
	store        LedgerStore
	idempotency  IdempotencyStore
	balances     BalanceReader
	idGen        IDGenerator
	metrics      SubmitMetrics
	logger       zerolog.Logger
	localRouting string
	rules        domain.ValidationRules
	timeout      time.Duration
	idemTTL      time.Duration
	needsToken   bool
	now          func() time.Time
}

// TransactionUseCaseConfig holds the dependencies of TransactionUseCase.
// Idempotency, Balances and Metrics are optional.
type TransactionUseCaseConfig struct {
	Store         LedgerStore
	Idempotency   IdempotencyStore
	Balances      BalanceReader
	IDGen         IDGenerator
	Metrics       SubmitMetrics
	Logger        zerolog.Logger
	LocalRouting  string
	Rules         domain.ValidationRules
	SubmitTimeout time.Duration

	// IdempotencyTTL is how long transaction ids are remembered. Zero means IdempotencyKeyTTL.
	IdempotencyTTL time.Duration

	// FundsCheckNeedsCredential skips the sufficient-funds check for callers
	// without a bearer token. Set it when the balance reader requires auth.
	FundsCheckNeedsCredential bool
}

// NewTransactionUseCase creates a new TransactionUseCase.
func NewTransactionUseCase(cfg TransactionUseCaseConfig) *TransactionUseCase {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = IdempotencyKeyTTL
	}

	return &TransactionUseCase{
		store:        cfg.Store,
		idempotency:  cfg.Idempotency,
		balances:     cfg.Balances,
		idGen:        cfg.IDGen,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "submitter").Logger(),
		localRouting: cfg.LocalRouting,
		rules:        cfg.Rules,
		timeout:      cfg.SubmitTimeout,
		idemTTL:      cfg.IdempotencyTTL,
		needsToken:   cfg.FundsCheckNeedsCredential,
		now:          time.Now,
	}
}

// SubmitTransactionInput represents a payment or deposit request.
type SubmitTransactionInput struct {
	// TransactionID is the producer's id used for duplicate detection. Generated when empty.
	TransactionID string
	FromAccount   string
	FromRouting   string
	ToAccount     string
	ToRouting     string
	Amount        int64
	// AuthenticatedAccount is the account carried by the caller's bearer credential,
	// empty when the caller is not authenticated.
	AuthenticatedAccount string
}

// Submit validates the request and appends exactly one record to the ledger.
// Success is only returned once the store has acknowledged the append.
func (uc *TransactionUseCase) Submit(ctx context.Context, input SubmitTransactionInput) (*domain.Entry, error) {
	tx := domain.Transaction{
		TransactionID: input.TransactionID,
		FromAccount:   input.FromAccount,
		FromRouting:   input.FromRouting,
		ToAccount:     input.ToAccount,
		ToRouting:     input.ToRouting,
		Amount:        input.Amount,
	}

	// 1. Validate before touching anything
	if err := domain.ValidateTransaction(&tx, uc.rules); err != nil {
		uc.reject("invalid", err, &tx)
		return nil, err
	}

	// 2. Local senders may only spend from their own account; deposits come from elsewhere
	if input.AuthenticatedAccount != "" &&
		tx.FromRouting == uc.localRouting &&
		tx.FromAccount != input.AuthenticatedAccount {
		uc.reject("not_authorized", domain.ErrNotAuthorized, &tx)
		return nil, domain.ErrNotAuthorized
	}

	// 3. Sender balance must cover the amount
	if uc.checksFunds(ctx, &tx) {
		balance, err := uc.balances.GetBalance(ctx, tx.FromAccount)
		if err != nil {
			uc.reject("balance_unavailable", err, &tx)
			return nil, fmt.Errorf("check sender balance: %w", err)
		}

		if balance < tx.Amount {
			uc.reject("insufficient_balance", domain.ErrInsufficientBalance, &tx)
			return nil, domain.ErrInsufficientBalance
		}
	}

	// 4. Claim the transaction id
	claimed := false
	if tx.TransactionID == "" {
		tx.TransactionID = uc.idGen.Generate()
	} else if uc.idempotency != nil {
		exists, _, err := uc.idempotency.CheckAndSet(ctx, idempotencyKey(tx.TransactionID), nil, uc.idemTTL)
		if err != nil {
			err = fmt.Errorf("%w: idempotency check: %v", domain.ErrStoreUnavailable, err)
			uc.reject("store_unavailable", err, &tx)
			return nil, err
		}

		if exists {
			uc.reject("duplicate", domain.ErrDuplicateTransaction, &tx)
			return nil, domain.ErrDuplicateTransaction
		}

		claimed = true
	}

	// 5. Append with a bounded wait
	appendCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	tx.Timestamp = uc.now().UTC()

	id, err := uc.store.Append(appendCtx, &tx)
	if err != nil {
		if claimed {
			if appendOutcomeUnknown(appendCtx, err) {
				// The XADD may have landed; a retry must not append it again.
				uc.logger.Warn().Err(err).
					Str("transaction_id", tx.TransactionID).
					Msg("append outcome unknown, keeping transaction id claimed")
			} else {
				uc.release(ctx, tx.TransactionID)
			}
		}

		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}

		uc.reject("store_unavailable", err, &tx)
		return nil, err
	}

	if claimed {
		if err := uc.idempotency.Update(ctx, idempotencyKey(tx.TransactionID), []byte(id.String()), uc.idemTTL); err != nil {
			uc.logger.Warn().Err(err).
				Str("transaction_id", tx.TransactionID).
				Msg("failed to record entry id for transaction")
		}
	}

	uc.metrics.TransactionAccepted(tx.Amount)
	uc.logger.Info().
		Str("entry_id", id.String()).
		Str("transaction_id", tx.TransactionID).
		Str("from_account", tx.FromAccount).
		Str("to_account", tx.ToAccount).
		Str("amount", domain.FormatMinorUnits(tx.Amount)).
		Msg("transaction appended")

	return &domain.Entry{ID: id, Transaction: tx}, nil
}

func (uc *TransactionUseCase) checksFunds(ctx context.Context, tx *domain.Transaction) bool {
	if uc.balances == nil || tx.FromRouting != uc.localRouting {
		return false
	}
	if uc.needsToken && BearerTokenFromContext(ctx) == "" {
		uc.logger.Debug().
			Str("transaction_id", tx.TransactionID).
			Msg("no credential for balance lookup, skipping funds check")
		return false
	}
	return true
}

// appendOutcomeUnknown reports whether a failed append may still have been
// applied by the server: the wait ran out after the command could have been sent.
func appendOutcomeUnknown(appendCtx context.Context, err error) bool {
	if errors.Is(err, domain.ErrCircuitOpen) {
		return false
	}
	return appendCtx.Err() != nil ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func (uc *TransactionUseCase) reject(reason string, err error, tx *domain.Transaction) {
	uc.metrics.TransactionRejected(reason)
	uc.logger.Warn().Err(err).
		Str("reason", reason).
		Str("transaction_id", tx.TransactionID).
		Str("from_account", tx.FromAccount).
		Str("to_account", tx.ToAccount).
		Int64("amount", tx.Amount).
		Msg("transaction rejected")
}

func (uc *TransactionUseCase) release(ctx context.Context, transactionID string) {
	// The caller's context may already be done; the placeholder must still go.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := uc.idempotency.Release(ctx, idempotencyKey(transactionID)); err != nil {
		uc.logger.Error().Err(err).
			Str("transaction_id", transactionID).
			Msg("failed to release transaction id")
	}
}

func idempotencyKey(transactionID string) string {
	return "transaction:" + transactionID
}
