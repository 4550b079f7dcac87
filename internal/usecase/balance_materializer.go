package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// ReplayState is the phase of the replay loop.
type ReplayState int32

const (
	StateCatchingUp ReplayState = iota
	StateSteady
)

func (s ReplayState) String() string {
	switch s {
	case StateCatchingUp:
		return "CATCHING_UP"
	case StateSteady:
		return "STEADY_STATE"
	default:
		return "UNKNOWN"
	}
}

// Reasons an entry is read but has no effect on balances.
const (
	SkipRedelivered   = "redelivered"
	SkipInvalidAmount = "invalid_amount"
	SkipEmptyAccount  = "empty_account"
)

// MaterializerConfig configures a BalanceMaterializer.
type MaterializerConfig struct {
	Store        LedgerStore
	Snapshots    SnapshotStore // optional
	Metrics      ReplayMetrics // optional
	Logger       zerolog.Logger
	LocalRouting string
	// HistoryLimit bounds the per-account transaction history. Zero means DefaultHistoryLimit.
	HistoryLimit int
	// CheckpointEvery is the number of applied entries between snapshots.
	CheckpointEvery int
	// NewBackOff builds the retry policy for store failures. Defaults to an unbounded exponential backoff.
	NewBackOff func() backoff.BackOff
}

// BalanceMaterializer replays the ledger into an in-memory balance map and serves
// queries against it. The replay loop is the only writer of the map.
type BalanceMaterializer struct {
	store           LedgerStore
	snapshots       SnapshotStore
	metrics         ReplayMetrics
	logger          zerolog.Logger
	localRouting    string
	historyLimit    int
	checkpointEvery int
	newBackOff      func() backoff.BackOff

	mu       sync.RWMutex
	balances map[string]int64
	history  map[string][]domain.Entry
	cursor   domain.EntryID

	// replay goroutine only
	sinceCheckpoint int

	state atomic.Int32
	ready atomic.Bool
	alive atomic.Bool
}

// NewBalanceMaterializer creates a materializer positioned at the beginning of the log.
func NewBalanceMaterializer(cfg MaterializerConfig) *BalanceMaterializer {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaultReplayBackOff
	}

	return &BalanceMaterializer{
		store:           cfg.Store,
		snapshots:       cfg.Snapshots,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger.With().Str("component", "materializer").Logger(),
		localRouting:    cfg.LocalRouting,
		historyLimit:    cfg.HistoryLimit,
		checkpointEvery: cfg.CheckpointEvery,
		newBackOff:      cfg.NewBackOff,
		balances:        make(map[string]int64),
		history:         make(map[string][]domain.Entry),
	}
}

func defaultReplayBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Restore loads the latest snapshot, if a snapshot store is configured.
// It must be called before the replay starts.
func (m *BalanceMaterializer) Restore(ctx context.Context) error {
	if m.snapshots == nil {
		return nil
	}

	snapshot, err := m.snapshots.Load(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}

	balances := make(map[string]int64, len(snapshot.Balances))
	for account, balance := range snapshot.Balances {
		balances[account] = balance
	}

	m.mu.Lock()
	m.balances = balances
	m.cursor = snapshot.Cursor
	m.mu.Unlock()

	m.logger.Info().
		Str("cursor", snapshot.Cursor.String()).
		Int("accounts", len(balances)).
		Time("taken_at", snapshot.TakenAt).
		Msg("restored balance snapshot")

	return nil
}

// CatchUp drains the log with non-blocking reads until a read returns nothing,
// then marks the materializer ready.
func (m *BalanceMaterializer) CatchUp(ctx context.Context) error {
	m.state.Store(int32(StateCatchingUp))

	for {
		n, err := m.poll(ctx, false)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}

	m.checkpoint(ctx, true)
	m.state.Store(int32(StateSteady))
	m.ready.Store(true)

	accounts := len(m.Balances())
	m.metrics.CaughtUp(accounts)
	m.logger.Info().
		Str("cursor", m.Cursor().String()).
		Int("accounts", accounts).
		Msg("caught up with ledger")

	return nil
}

// Run restores, catches up and then tails the log until ctx is cancelled.
// Store failures are retried with backoff and never end the loop.
func (m *BalanceMaterializer) Run(ctx context.Context) error {
	m.alive.Store(true)
	defer m.alive.Store(false)

	if err := m.Restore(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("snapshot restore failed, replaying from the beginning")
	}

	if err := m.retry(ctx, func() error { return m.CatchUp(ctx) }); err != nil {
		return ignoreCanceled(ctx, err)
	}

	for ctx.Err() == nil {
		err := m.retry(ctx, func() error {
			_, err := m.poll(ctx, true)
			return err
		})
		if err != nil {
			return ignoreCanceled(ctx, err)
		}
		m.checkpoint(ctx, false)
	}

	m.logger.Info().Str("cursor", m.Cursor().String()).Msg("replay loop stopped")
	return nil
}

func (m *BalanceMaterializer) retry(ctx context.Context, op func() error) error {
	operation := func() error {
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		m.logger.Warn().Err(err).
			Dur("retry_in", wait).
			Str("state", m.State().String()).
			Msg("ledger read failed")
	}

	return backoff.RetryNotify(operation, backoff.WithContext(m.newBackOff(), ctx), notify)
}

// poll reads one batch after the cursor and applies it. It returns the batch size.
func (m *BalanceMaterializer) poll(ctx context.Context, block bool) (int, error) {
	entries, err := m.store.ReadFrom(ctx, m.Cursor(), block)
	if err != nil {
		m.metrics.ReplayError()
		return 0, err
	}

	for i := range entries {
		m.apply(&entries[i])
	}

	return len(entries), nil
}

// apply folds a single entry into the balance map. The write lock covers both legs.
func (m *BalanceMaterializer) apply(entry *domain.Entry) {
	skip := m.applyLocked(entry)
	if skip != "" {
		m.metrics.EntrySkipped(skip)
		if skip != SkipRedelivered {
			m.logger.Warn().
				Str("entry_id", entry.ID.String()).
				Str("reason", skip).
				Msg("skipping malformed ledger entry")
		}
		return
	}

	m.sinceCheckpoint++
	m.metrics.EntryApplied(entry.ID)
}

func (m *BalanceMaterializer) applyLocked(entry *domain.Entry) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !entry.ID.After(m.cursor) {
		return SkipRedelivered
	}
	m.cursor = entry.ID

	tx := &entry.Transaction
	if tx.Amount <= 0 {
		return SkipInvalidAmount
	}
	if (tx.FromRouting == m.localRouting && tx.FromAccount == "") ||
		(tx.ToRouting == m.localRouting && tx.ToAccount == "") {
		return SkipEmptyAccount
	}

	for account, delta := range tx.Deltas(m.localRouting) {
		m.balances[account] += delta
		m.remember(account, entry)
	}

	return ""
}

func (m *BalanceMaterializer) remember(account string, entry *domain.Entry) {
	h := append(m.history[account], *entry)
	if len(h) > m.historyLimit {
		h = h[len(h)-m.historyLimit:]
	}
	m.history[account] = h
}

// checkpoint saves a snapshot once enough entries were applied, or whenever
// anything was applied when force is set. Failures are logged only.
func (m *BalanceMaterializer) checkpoint(ctx context.Context, force bool) {
	if m.snapshots == nil || m.sinceCheckpoint == 0 {
		return
	}
	if !force && m.sinceCheckpoint < m.checkpointEvery {
		return
	}

	snapshot := m.Snapshot()
	if err := m.snapshots.Save(ctx, snapshot); err != nil {
		m.logger.Error().Err(err).Str("cursor", snapshot.Cursor.String()).Msg("failed to save snapshot")
		return
	}

	m.sinceCheckpoint = 0
	m.logger.Debug().
		Str("cursor", snapshot.Cursor.String()).
		Int("accounts", len(snapshot.Balances)).
		Msg("saved balance snapshot")
}

// Snapshot returns a consistent copy of the balances and the cursor they reflect.
func (m *BalanceMaterializer) Snapshot() *domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balances := make(map[string]int64, len(m.balances))
	for account, balance := range m.balances {
		balances[account] = balance
	}

	return &domain.Snapshot{
		Cursor:   m.cursor,
		Balances: balances,
		TakenAt:  time.Now().UTC(),
	}
}

// Balance returns the materialized balance, 0 for accounts without activity.
func (m *BalanceMaterializer) Balance(accountID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[accountID]
}

// GetBalance implements BalanceReader for in-process callers.
func (m *BalanceMaterializer) GetBalance(_ context.Context, accountID string) (int64, error) {
	return m.Balance(accountID), nil
}

// Balances returns a copy of the whole balance map.
func (m *BalanceMaterializer) Balances() map[string]int64 {
	return m.Snapshot().Balances
}

// History returns up to limit of the most recent entries touching accountID, newest first.
// A limit <= 0 returns everything retained.
func (m *BalanceMaterializer) History(accountID string, limit int) []domain.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.history[accountID]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}

	out := make([]domain.Entry, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out
}

// Cursor returns the id of the last entry read from the log.
func (m *BalanceMaterializer) Cursor() domain.EntryID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor
}

// State returns the current replay phase.
func (m *BalanceMaterializer) State() ReplayState {
	return ReplayState(m.state.Load())
}

// Ready reports whether the initial catch-up has completed.
func (m *BalanceMaterializer) Ready() bool {
	return m.ready.Load()
}

// Alive reports whether the replay loop is running.
func (m *BalanceMaterializer) Alive() bool {
	return m.alive.Load()
}

func ignoreCanceled(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}
