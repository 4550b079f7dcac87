package usecase

import (
	"context"
	"time"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// LedgerStore is the append-only, totally ordered transaction log.
type LedgerStore interface {
	// Append durably persists tx and returns the id the log assigned to it.
	Append(ctx context.Context, tx *domain.Transaction) (domain.EntryID, error)
	// ReadFrom returns entries strictly after the given id, in log order.
	// With block set and nothing new, it waits up to the store's server timeout
	// and may return an empty batch.
	ReadFrom(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error)
}

// QueuedTransaction is a message from the unconfirmed queue.
type QueuedTransaction struct {
	MessageID   string
	Transaction domain.Transaction
}

// TransactionQueue is the unconfirmed intake queue fed by producers such as the generator.
type TransactionQueue interface {
	Enqueue(ctx context.Context, tx *domain.Transaction) (string, error)
	// Read returns this consumer's pending (delivered, unacknowledged) messages when
	// pending is true, otherwise blocks for new ones.
	Read(ctx context.Context, pending bool) ([]QueuedTransaction, error)
	Ack(ctx context.Context, messageIDs ...string) error
}

// TransactionSubmitter submits one transaction to the ledger.
type TransactionSubmitter interface {
	Submit(ctx context.Context, input SubmitTransactionInput) (*domain.Entry, error)
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a key so the operation can be retried.
	Release(ctx context.Context, key string) error
}

// BalanceReader reports the materialized balance of an account.
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
}

// SnapshotStore persists materialized balances together with the replay cursor.
type SnapshotStore interface {
	// Load returns the latest snapshot, or nil when none was saved yet.
	Load(ctx context.Context) (*domain.Snapshot, error)
	Save(ctx context.Context, snapshot *domain.Snapshot) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// ReplayMetrics observes the balance materializer.
type ReplayMetrics interface {
	EntryApplied(cursor domain.EntryID)
	EntrySkipped(reason string)
	ReplayError()
	CaughtUp(accounts int)
}

// SubmitMetrics observes the transaction submitter.
type SubmitMetrics interface {
	TransactionAccepted(amount int64)
	TransactionRejected(reason string)
}

// WorkerMetrics observes background producers and consumers.
type WorkerMetrics interface {
	MessageProcessed(worker, result string)
}

type noopMetrics struct{}

func (noopMetrics) EntryApplied(domain.EntryID) {}
func (noopMetrics) EntrySkipped(string) {}
func (noopMetrics) ReplayError() {}
func (noopMetrics) CaughtUp(int) {}
func (noopMetrics) TransactionAccepted(int64) {}
func (noopMetrics) TransactionRejected(string) {}
func (noopMetrics) MessageProcessed(string, string) {}
