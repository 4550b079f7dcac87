package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

const (
	selectCheckpointSQL = `
SELECT entry_ms, entry_seq, taken_at
FROM replay_checkpoints
WHERE stream = $1 AND routing_number = $2`

	selectBalancesSQL = `
SELECT account_id, balance
FROM balance_snapshots
WHERE stream = $1 AND routing_number = $2`

	// Only a newer cursor replaces the stored one, so replicas sharing the
	// key cannot roll the checkpoint back.
	upsertCheckpointSQL = `
INSERT INTO replay_checkpoints (stream, routing_number, entry_ms, entry_seq, taken_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (stream, routing_number) DO UPDATE
SET entry_ms = EXCLUDED.entry_ms,
    entry_seq = EXCLUDED.entry_seq,
    taken_at = EXCLUDED.taken_at
WHERE (replay_checkpoints.entry_ms, replay_checkpoints.entry_seq) < (EXCLUDED.entry_ms, EXCLUDED.entry_seq)`

	upsertBalancesSQL = `
INSERT INTO balance_snapshots (stream, routing_number, account_id, balance)
SELECT $1, $2, account_id, balance
FROM unnest($3::text[], $4::bigint[]) AS s(account_id, balance)
ON CONFLICT (stream, routing_number, account_id) DO UPDATE
SET balance = EXCLUDED.balance`
)

// SnapshotRepository implements usecase.SnapshotStore in PostgreSQL.
// Rows are keyed by stream name and routing number so one database can
// serve several ledgers and banks.
type SnapshotRepository struct {
	txManager *TxManager
	retrier   *Retrier
	stream    string
	routing   string
	logger    zerolog.Logger
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(pool *pgxpool.Pool, retrier *Retrier, stream, routing string, logger zerolog.Logger) *SnapshotRepository {
	return newSnapshotRepository(newTxManagerWithPool(pool), retrier, stream, routing, logger)
}

func newSnapshotRepository(txManager *TxManager, retrier *Retrier, stream, routing string, logger zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		txManager: txManager,
		retrier:   retrier,
		stream:    stream,
		routing:   routing,
		logger:    logger.With().Str("component", "snapshots").Logger(),
	}
}

// Load returns the stored snapshot, or nil when there is none.
func (r *SnapshotRepository) Load(ctx context.Context) (*domain.Snapshot, error) {
	var snapshot *domain.Snapshot

	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := r.retrier.Retry(ctx, func() error {
		return r.txManager.WithTx(ctx, opts, func(tx pgx.Tx) error {
			var err error
			snapshot, err = r.load(ctx, tx)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return snapshot, nil
}

func (r *SnapshotRepository) load(ctx context.Context, tx pgx.Tx) (*domain.Snapshot, error) {
	var (
		ms, seq int64
		takenAt time.Time
	)

	err := tx.QueryRow(ctx, selectCheckpointSQL, r.stream, r.routing).Scan(&ms, &seq, &takenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, selectBalancesSQL, r.stream, r.routing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[string]int64)
	for rows.Next() {
		var (
			account string
			balance int64
		)
		if err := rows.Scan(&account, &balance); err != nil {
			return nil, err
		}
		balances[account] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if ms < 0 || seq < 0 {
		return nil, fmt.Errorf("%w: cursor %d-%d", domain.ErrInvalidSnapshot, ms, seq)
	}

	return &domain.Snapshot{
		Cursor:   domain.EntryID{Millis: uint64(ms), Seq: uint64(seq)},
		Balances: balances,
		TakenAt:  takenAt,
	}, nil
}

// Save writes the cursor and the balances in one transaction. A snapshot older
// than the stored one is dropped.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	accounts := make([]string, 0, len(snapshot.Balances))
	for account := range snapshot.Balances {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	balances := make([]int64, len(accounts))
	for i, account := range accounts {
		balances[i] = snapshot.Balances[account]
	}

	stale := false
	err := r.retrier.Retry(ctx, func() error {
		return r.txManager.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, upsertCheckpointSQL,
				r.stream, r.routing,
				int64(snapshot.Cursor.Millis), int64(snapshot.Cursor.Seq),
				snapshot.TakenAt)
			if err != nil {
				return err
			}

			stale = tag.RowsAffected() == 0
			if stale || len(accounts) == 0 {
				return nil
			}

			_, err = tx.Exec(ctx, upsertBalancesSQL, r.stream, r.routing, accounts, balances)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if stale {
		r.logger.Debug().Str("cursor", snapshot.Cursor.String()).Msg("stored snapshot is newer, skipped")
	}
	return nil
}
