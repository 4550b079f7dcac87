package usecase_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase/mocks"
)

func local(from, to string, amount int64) domain.Transaction {
	return domain.Transaction{
		FromAccount: from,
		FromRouting: localRouting,
		ToAccount:   to,
		ToRouting:   localRouting,
		Amount:      amount,
	}
}

func newMaterializer(store usecase.LedgerStore, opts ...func(*usecase.MaterializerConfig)) (*usecase.BalanceMaterializer, *recordingMetrics) {
	metrics := newRecordingMetrics()
	cfg := usecase.MaterializerConfig{
		Store:        store,
		Metrics:      metrics,
		Logger:       zerolog.Nop(),
		LocalRouting: localRouting,
		NewBackOff:   func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return usecase.NewBalanceMaterializer(cfg), metrics
}

func at(millis uint64) domain.EntryID {
	return domain.EntryID{Millis: millis}
}

func TestBalanceMaterializer_LocalTransfer(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	_, err := store.Append(context.Background(), ptr(local("A", "B", 500)))
	require.NoError(t, err)

	m, _ := newMaterializer(store)
	require.NoError(t, m.CatchUp(context.Background()))

	assert.Equal(t, int64(-500), m.Balance("A"))
	assert.Equal(t, int64(500), m.Balance("B"))
	assert.Equal(t, int64(0), m.Balance("C"), "account without activity")
	assert.True(t, m.Ready())
	assert.Equal(t, usecase.StateSteady, m.State())
}

func TestBalanceMaterializer_AppliesInEntryOrder(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	require.NoError(t, store.AppendAt(at(10), local("A", "B", 100)))
	require.NoError(t, store.AppendAt(at(11), local("B", "A", 30)))

	m, _ := newMaterializer(store)
	require.NoError(t, m.CatchUp(context.Background()))

	assert.Equal(t, int64(-70), m.Balance("A"))
	assert.Equal(t, int64(70), m.Balance("B"))
	assert.Equal(t, at(11), m.Cursor())
}

func TestBalanceMaterializer_OutOfOrderDeliveryIsNotApplied(t *testing.T) {
	// A store handing back 11 before 10 must not produce the in-order result.
	reversed := []domain.Entry{
		{ID: at(11), Transaction: local("B", "A", 30)},
		{ID: at(10), Transaction: local("A", "B", 100)},
	}
	store := mocks.NewMockLedgerStore()
	store.ReadFromFunc = func(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error) {
		if after.IsZero() {
			return reversed, nil
		}
		return nil, nil
	}

	m, metrics := newMaterializer(store)
	require.NoError(t, m.CatchUp(context.Background()))

	assert.NotEqual(t, int64(-70), m.Balance("A"))
	assert.Equal(t, int64(30), m.Balance("A"))
	assert.Equal(t, int64(-30), m.Balance("B"))
	assert.Equal(t, 1, metrics.skipped[usecase.SkipRedelivered])
}

func TestBalanceMaterializer_LocalityRule(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	ctx := context.Background()

	// deposit from another bank
	_, _ = store.Append(ctx, &domain.Transaction{FromAccount: "X", FromRouting: externalRouting, ToAccount: "A", ToRouting: localRouting, Amount: 1000})
	// payment to another bank
	_, _ = store.Append(ctx, &domain.Transaction{FromAccount: "A", FromRouting: localRouting, ToAccount: "Y", ToRouting: externalRouting, Amount: 250})
	// neither leg is local
	_, _ = store.Append(ctx, &domain.Transaction{FromAccount: "X", FromRouting: externalRouting, ToAccount: "Y", ToRouting: "111111111", Amount: 999})

	m, metrics := newMaterializer(store)
	require.NoError(t, m.CatchUp(ctx))

	assert.Equal(t, map[string]int64{"A": 750}, m.Balances())
	assert.Equal(t, at(3), m.Cursor())
	assert.Equal(t, 3, metrics.applied)
}

func TestBalanceMaterializer_SkipsMalformedEntries(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	ctx := context.Background()

	_, _ = store.Append(ctx, ptr(local("A", "B", 0)))
	_, _ = store.Append(ctx, ptr(local("", "B", 10)))
	_, _ = store.Append(ctx, ptr(local("A", "B", 5)))

	m, metrics := newMaterializer(store)
	require.NoError(t, m.CatchUp(ctx))

	assert.Equal(t, int64(-5), m.Balance("A"))
	assert.Equal(t, int64(5), m.Balance("B"))
	assert.Equal(t, at(3), m.Cursor(), "malformed entries still advance the cursor")
	assert.Equal(t, 1, metrics.skipped[usecase.SkipInvalidAmount])
	assert.Equal(t, 1, metrics.skipped[usecase.SkipEmptyAccount])
}

func TestBalanceMaterializer_RedeliveryIsIdempotent(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	ctx := context.Background()
	_, _ = store.Append(ctx, ptr(local("A", "B", 100)))
	_, _ = store.Append(ctx, ptr(local("B", "A", 40)))

	// ignore the cursor the first time round, as a store would after a reconnect
	calls := 0
	store.ReadFromFunc = func(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error) {
		calls++
		switch calls {
		case 1, 2:
			return store.Entries(), nil
		default:
			return nil, nil
		}
	}

	m, metrics := newMaterializer(store)
	require.NoError(t, m.CatchUp(ctx))

	assert.Equal(t, int64(-60), m.Balance("A"))
	assert.Equal(t, int64(60), m.Balance("B"))
	assert.Equal(t, 2, metrics.skipped[usecase.SkipRedelivered])
}

func randomLog(t *testing.T, store *mocks.MockLedgerStore, n int, withExternal bool) int64 {
	t.Helper()

	rng := rand.New(rand.NewPCG(42, 7))
	accounts := []string{"A", "B", "C", "D", "E"}
	var external int64

	for i := 0; i < n; i++ {
		from := accounts[rng.IntN(len(accounts))]
		to := accounts[rng.IntN(len(accounts))]
		tx := local(from, to, 1+rng.Int64N(1000))
		if withExternal && i%7 == 0 {
			tx.FromRouting = externalRouting
			external += tx.Amount
		}
		_, err := store.Append(context.Background(), &tx)
		require.NoError(t, err)
	}
	return external
}

func TestBalanceMaterializer_ReplayDeterminism(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	store.BatchSize = 7
	randomLog(t, store, 200, true)

	first, _ := newMaterializer(store)
	second, _ := newMaterializer(store)

	require.NoError(t, first.CatchUp(context.Background()))
	require.NoError(t, second.CatchUp(context.Background()))

	assert.Equal(t, first.Balances(), second.Balances())
	assert.Equal(t, first.Cursor(), second.Cursor())
}

func TestBalanceMaterializer_Conservation(t *testing.T) {
	sum := func(balances map[string]int64) int64 {
		var total int64
		for _, b := range balances {
			total += b
		}
		return total
	}

	t.Run("purely local transfers net to zero", func(t *testing.T) {
		store := mocks.NewMockLedgerStore()
		randomLog(t, store, 100, false)

		m, _ := newMaterializer(store)
		require.NoError(t, m.CatchUp(context.Background()))
		assert.Equal(t, int64(0), sum(m.Balances()))
	})

	t.Run("only external legs change the total", func(t *testing.T) {
		store := mocks.NewMockLedgerStore()
		external := randomLog(t, store, 100, true)

		m, _ := newMaterializer(store)
		require.NoError(t, m.CatchUp(context.Background()))
		assert.Equal(t, external, sum(m.Balances()))
	})
}

func TestBalanceMaterializer_RunTailsAndRestartsConsistently(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	randomLog(t, store, 20, true)

	m, _ := newMaterializer(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.Ready, time.Second, 5*time.Millisecond)
	assert.True(t, m.Alive())

	_, err := store.Append(context.Background(), ptr(local("A", "B", 12345)))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Cursor() == at(21) }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("replay loop did not stop after cancellation")
	}
	assert.False(t, m.Alive())

	// a fresh process replaying from the beginning ends up in the same place
	restarted, _ := newMaterializer(store)
	require.NoError(t, restarted.CatchUp(context.Background()))
	assert.Equal(t, m.Balances(), restarted.Balances())
}

func TestBalanceMaterializer_QueriesDoNotWaitForBlockedRead(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	_, _ = store.Append(context.Background(), ptr(local("A", "B", 5)))

	m, _ := newMaterializer(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, m.Ready, time.Second, 5*time.Millisecond)

	// the loop is now parked in a blocking read
	got := make(chan int64, 1)
	go func() { got <- m.Balance("B") }()

	select {
	case b := <-got:
		assert.Equal(t, int64(5), b)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("balance query blocked behind the replay loop")
	}
}

func TestBalanceMaterializer_BacksOffOnStoreErrors(t *testing.T) {
	store := mocks.NewMockLedgerStore()

	failures := 3
	inner := mocks.NewMockLedgerStore()
	require.NoError(t, inner.AppendAt(at(1), local("A", "B", 9)))
	store.ReadFromFunc = func(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error) {
		if failures > 0 {
			failures--
			return nil, domain.ErrStoreUnavailable
		}
		return inner.ReadFrom(ctx, after, block)
	}

	m, metrics := newMaterializer(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, m.Ready, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(9), m.Balance("B"))
	assert.Equal(t, 3, metrics.errors)
}

func TestBalanceMaterializer_CatchUpSurfacesErrors(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	store.ReadFromFunc = func(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error) {
		return nil, domain.ErrStoreUnavailable
	}

	m, _ := newMaterializer(store)
	err := m.CatchUp(context.Background())

	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
	assert.False(t, m.Ready())
	assert.Equal(t, usecase.StateCatchingUp, m.State())
}

func TestBalanceMaterializer_Snapshots(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	randomLog(t, store, 10, true)
	snapshots := mocks.NewMockSnapshotStore()

	withSnapshots := func(cfg *usecase.MaterializerConfig) {
		cfg.Snapshots = snapshots
		cfg.CheckpointEvery = 4
	}

	first, _ := newMaterializer(store, withSnapshots)
	require.NoError(t, first.CatchUp(context.Background()))

	saved := snapshots.Saved()
	require.NotEmpty(t, saved)
	last := saved[len(saved)-1]
	assert.Equal(t, at(10), last.Cursor)
	assert.Equal(t, first.Balances(), last.Balances)

	// more entries after the checkpoint
	_, _ = store.Append(context.Background(), ptr(local("A", "C", 77)))

	reads := 0
	counting := mocks.NewMockLedgerStore()
	counting.ReadFromFunc = func(ctx context.Context, after domain.EntryID, block bool) ([]domain.Entry, error) {
		reads++
		return store.ReadFrom(ctx, after, block)
	}

	restored, _ := newMaterializer(counting, withSnapshots)
	require.NoError(t, restored.Restore(context.Background()))
	assert.Equal(t, at(10), restored.Cursor())

	require.NoError(t, restored.CatchUp(context.Background()))

	fresh, _ := newMaterializer(store)
	require.NoError(t, fresh.CatchUp(context.Background()))

	assert.Equal(t, fresh.Balances(), restored.Balances())
	assert.Equal(t, 2, reads, "one batch with the new entry and one empty read")
}

func TestBalanceMaterializer_History(t *testing.T) {
	store := mocks.NewMockLedgerStore()
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		_, _ = store.Append(ctx, ptr(local("A", "B", i)))
	}
	_, _ = store.Append(ctx, ptr(local("C", "D", 99)))

	m, _ := newMaterializer(store, func(cfg *usecase.MaterializerConfig) { cfg.HistoryLimit = 3 })
	require.NoError(t, m.CatchUp(ctx))

	history := m.History("A", 0)
	require.Len(t, history, 3)
	assert.Equal(t, int64(5), history[0].Transaction.Amount, "newest first")
	assert.Equal(t, int64(3), history[2].Transaction.Amount)

	assert.Len(t, m.History("B", 2), 2)
	assert.Empty(t, m.History("nobody", 10))
}

func ptr(tx domain.Transaction) *domain.Transaction {
	return &tx
}
