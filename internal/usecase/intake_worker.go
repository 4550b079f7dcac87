package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// Intake results reported to WorkerMetrics.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultRetried   = "retried"
)

const intakeWorkerName = "intake"

// IntakeWorker moves transactions from the unconfirmed queue into the ledger
// through the submitter, so queued producers get the same validation as API clients.
type IntakeWorker struct {
	queue      TransactionQueue
	submitter  TransactionSubmitter
	metrics    WorkerMetrics
	logger     zerolog.Logger
	newBackOff func() backoff.BackOff
}

// NewIntakeWorker creates a new IntakeWorker. metrics may be nil.
func NewIntakeWorker(queue TransactionQueue, submitter TransactionSubmitter, metrics WorkerMetrics, logger zerolog.Logger) *IntakeWorker {
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &IntakeWorker{
		queue:      queue,
		submitter:  submitter,
		metrics:    metrics,
		logger:     logger.With().Str("component", "intake").Logger(),
		newBackOff: defaultReplayBackOff,
	}
}

// WithBackOff replaces the retry policy, mainly for tests.
func (w *IntakeWorker) WithBackOff(newBackOff func() backoff.BackOff) *IntakeWorker {
	w.newBackOff = newBackOff
	return w
}

// Run first settles messages delivered to this consumer before a restart,
// then processes new messages until ctx is cancelled.
func (w *IntakeWorker) Run(ctx context.Context) error {
	w.logger.Info().Msg("intake worker started")

	for {
		n, err := w.ProcessBatch(ctx, true)
		if err != nil {
			return ignoreCanceled(ctx, err)
		}
		if n == 0 {
			break
		}
	}

	for ctx.Err() == nil {
		if _, err := w.ProcessBatch(ctx, false); err != nil {
			return ignoreCanceled(ctx, err)
		}
	}

	w.logger.Info().Msg("intake worker stopped")
	return nil
}

// ProcessBatch reads one batch from the queue and settles every message in it.
// It only returns an error once ctx is done.
func (w *IntakeWorker) ProcessBatch(ctx context.Context, pending bool) (int, error) {
	var batch []QueuedTransaction
	err := w.retry(ctx, func() error {
		var err error
		batch, err = w.queue.Read(ctx, pending)
		return err
	}, "queue read failed")
	if err != nil {
		return 0, err
	}

	for _, msg := range batch {
		if err := w.settle(ctx, msg); err != nil {
			return 0, err
		}
	}

	return len(batch), nil
}

func (w *IntakeWorker) settle(ctx context.Context, msg QueuedTransaction) error {
	tx := msg.Transaction
	input := SubmitTransactionInput{
		TransactionID: tx.TransactionID,
		FromAccount:   tx.FromAccount,
		FromRouting:   tx.FromRouting,
		ToAccount:     tx.ToAccount,
		ToRouting:     tx.ToRouting,
		Amount:        tx.Amount,
	}

	result := ResultAccepted
	err := w.retry(ctx, func() error {
		_, err := w.submitter.Submit(ctx, input)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrDuplicateTransaction):
			result = ResultDuplicate
			return nil
		case isRejection(err):
			result = ResultRejected
			w.logger.Warn().Err(err).
				Str("message_id", msg.MessageID).
				Str("transaction_id", tx.TransactionID).
				Msg("dropping rejected transaction")
			return nil
		default:
			w.metrics.MessageProcessed(intakeWorkerName, ResultRetried)
			return err
		}
	}, "submit failed")
	if err != nil {
		return err
	}

	if err := w.retry(ctx, func() error { return w.queue.Ack(ctx, msg.MessageID) }, "ack failed"); err != nil {
		return err
	}

	w.metrics.MessageProcessed(intakeWorkerName, result)
	return nil
}

func (w *IntakeWorker) retry(ctx context.Context, op func() error, msg string) error {
	operation := func() error {
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		w.logger.Warn().Err(err).Dur("retry_in", wait).Msg(msg)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(w.newBackOff(), ctx), notify)
}

// isRejection reports whether the submitter refused the transaction on its merits.
func isRejection(err error) bool {
	return domain.IsValidationError(err) ||
		errors.Is(err, domain.ErrNotAuthorized) ||
		errors.Is(err, domain.ErrInsufficientBalance) ||
		errors.Is(err, domain.ErrBalanceRejected)
}
