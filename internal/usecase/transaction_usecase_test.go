package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase/mocks"
)

const (
	localRouting    = "883745000"
	externalRouting = "808889588"
)

func validInput() usecase.SubmitTransactionInput {
	return usecase.SubmitTransactionInput{
		FromAccount: "1011226111",
		FromRouting: localRouting,
		ToAccount:   "1033623433",
		ToRouting:   localRouting,
		Amount:      500,
	}
}

type submitterDeps struct {
	store       *mocks.MockLedgerStore
	idempotency *mocks.MockIdempotencyStore
	balances    *mocks.MockBalanceReader
	metrics     *recordingMetrics
}

func newSubmitter(t *testing.T, withBalances bool, opts ...func(*usecase.TransactionUseCaseConfig)) (*usecase.TransactionUseCase, submitterDeps) {
	t.Helper()
	ctrl := gomock.NewController(t)

	deps := submitterDeps{
		store:       mocks.NewMockLedgerStore(),
		idempotency: mocks.NewMockIdempotencyStore(ctrl),
		metrics:     newRecordingMetrics(),
	}

	cfg := usecase.TransactionUseCaseConfig{
		Store:        deps.store,
		Idempotency:  deps.idempotency,
		IDGen:        mocks.NewMockIDGenerator(),
		Metrics:      deps.metrics,
		Logger:       zerolog.Nop(),
		LocalRouting: localRouting,
	}
	if withBalances {
		deps.balances = mocks.NewMockBalanceReader(ctrl)
		cfg.Balances = deps.balances
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return usecase.NewTransactionUseCase(cfg), deps
}

func TestTransactionUseCase_Submit_AppendsOnce(t *testing.T) {
	uc, deps := newSubmitter(t, false)

	entry, err := uc.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := deps.store.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one append, got %d", len(entries))
	}
	if entries[0].ID != entry.ID {
		t.Fatalf("returned id %s does not match stored id %s", entry.ID, entries[0].ID)
	}
	if entry.Transaction.TransactionID != "tx-1" {
		t.Fatalf("expected generated transaction id, got %q", entry.Transaction.TransactionID)
	}
	if entry.Transaction.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
	if deps.metrics.accepted != 1 {
		t.Fatalf("expected accepted metric, got %d", deps.metrics.accepted)
	}
}

func TestTransactionUseCase_Submit_ValidationNeverTouchesStore(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(in *usecase.SubmitTransactionInput)
		wantErr error
	}{
		{"zero amount", func(in *usecase.SubmitTransactionInput) { in.Amount = 0 }, domain.ErrInvalidAmount},
		{"negative amount", func(in *usecase.SubmitTransactionInput) { in.Amount = -1 }, domain.ErrInvalidAmount},
		{"empty sender", func(in *usecase.SubmitTransactionInput) { in.FromAccount = "" }, domain.ErrInvalidAccount},
		{"empty receiver", func(in *usecase.SubmitTransactionInput) { in.ToAccount = "" }, domain.ErrInvalidAccount},
		{"self transfer", func(in *usecase.SubmitTransactionInput) { in.ToAccount = in.FromAccount }, domain.ErrSameAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// gomock fails the test on any call to the idempotency or balance mocks
			uc, deps := newSubmitter(t, true)

			in := validInput()
			in.TransactionID = "client-1"
			tt.mutate(&in)

			_, err := uc.Submit(context.Background(), in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if n := len(deps.store.Entries()); n != 0 {
				t.Fatalf("expected no append, got %d", n)
			}
			if deps.metrics.rejected["invalid"] != 1 {
				t.Fatalf("expected invalid rejection metric, got %v", deps.metrics.rejected)
			}
		})
	}
}

func TestTransactionUseCase_Submit_SmallestAmountAccepted(t *testing.T) {
	uc, deps := newSubmitter(t, false)

	in := validInput()
	in.Amount = 1

	if _, err := uc.Submit(context.Background(), in); err != nil {
		t.Fatalf("expected amount 1 to be accepted, got %v", err)
	}
	if n := len(deps.store.Entries()); n != 1 {
		t.Fatalf("expected one append, got %d", n)
	}
}

func TestTransactionUseCase_Submit_Authorization(t *testing.T) {
	t.Run("local sender must match credential", func(t *testing.T) {
		uc, deps := newSubmitter(t, false)

		in := validInput()
		in.AuthenticatedAccount = "1099999999"

		_, err := uc.Submit(context.Background(), in)
		if !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("expected ErrNotAuthorized, got %v", err)
		}
		if n := len(deps.store.Entries()); n != 0 {
			t.Fatalf("expected no append, got %d", n)
		}
	})

	t.Run("external deposit bypasses sender check and funds check", func(t *testing.T) {
		uc, deps := newSubmitter(t, true)

		in := validInput()
		in.FromRouting = externalRouting
		in.FromAccount = "9999999999"
		in.AuthenticatedAccount = in.ToAccount

		if _, err := uc.Submit(context.Background(), in); err != nil {
			t.Fatalf("expected deposit to be accepted, got %v", err)
		}
		if n := len(deps.store.Entries()); n != 1 {
			t.Fatalf("expected one append, got %d", n)
		}
	})
}

func TestTransactionUseCase_Submit_BalanceCheck(t *testing.T) {
	tests := []struct {
		name       string
		balance    int64
		balanceErr error
		wantErr    error
		wantAppend int
	}{
		{name: "sufficient funds", balance: 500, wantAppend: 1},
		{name: "insufficient funds", balance: 499, wantErr: domain.ErrInsufficientBalance},
		{name: "balance service down", balanceErr: domain.ErrBalanceUnavailable, wantErr: domain.ErrBalanceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc, deps := newSubmitter(t, true)

			deps.balances.EXPECT().
				GetBalance(gomock.Any(), "1011226111").
				Return(tt.balance, tt.balanceErr)

			_, err := uc.Submit(context.Background(), validInput())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if n := len(deps.store.Entries()); n != tt.wantAppend {
				t.Fatalf("expected %d appends, got %d", tt.wantAppend, n)
			}
		})
	}
}

func TestTransactionUseCase_Submit_Duplicate(t *testing.T) {
	uc, deps := newSubmitter(t, false)

	in := validInput()
	in.TransactionID = "client-1"

	deps.idempotency.EXPECT().
		CheckAndSet(gomock.Any(), "transaction:client-1", gomock.Nil(), usecase.IdempotencyKeyTTL).
		Return(true, []byte("1-0"), nil)

	_, err := uc.Submit(context.Background(), in)
	if !errors.Is(err, domain.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	if n := len(deps.store.Entries()); n != 0 {
		t.Fatalf("expected no append, got %d", n)
	}
}

func TestTransactionUseCase_Submit_RecordsEntryIDForTransaction(t *testing.T) {
	uc, deps := newSubmitter(t, false)

	in := validInput()
	in.TransactionID = "client-1"

	gomock.InOrder(
		deps.idempotency.EXPECT().
			CheckAndSet(gomock.Any(), "transaction:client-1", gomock.Nil(), usecase.IdempotencyKeyTTL).
			Return(false, nil, nil),
		deps.idempotency.EXPECT().
			Update(gomock.Any(), "transaction:client-1", []byte("1-0"), usecase.IdempotencyKeyTTL).
			Return(nil),
	)

	entry, err := uc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Transaction.TransactionID != "client-1" {
		t.Fatalf("expected client transaction id to be kept, got %q", entry.Transaction.TransactionID)
	}
}

func TestTransactionUseCase_Submit_StoreFailureReleasesClaim(t *testing.T) {
	uc, deps := newSubmitter(t, false)

	appends := 0
	deps.store.AppendFunc = func(ctx context.Context, tx *domain.Transaction) (domain.EntryID, error) {
		appends++
		return domain.EntryID{}, errors.New("connection refused")
	}

	in := validInput()
	in.TransactionID = "client-1"

	gomock.InOrder(
		deps.idempotency.EXPECT().
			CheckAndSet(gomock.Any(), "transaction:client-1", gomock.Nil(), gomock.Any()).
			Return(false, nil, nil),
		deps.idempotency.EXPECT().
			Release(gomock.Any(), "transaction:client-1").
			Return(nil),
	)

	_, err := uc.Submit(context.Background(), in)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if appends != 1 {
		t.Fatalf("expected exactly one append attempt, got %d", appends)
	}
	if deps.metrics.rejected["store_unavailable"] != 1 {
		t.Fatalf("expected store_unavailable metric, got %v", deps.metrics.rejected)
	}
}

func TestTransactionUseCase_Submit_IdempotencyStoreDown(t *testing.T) {
	uc, deps := newSubmitter(t, false)

	in := validInput()
	in.TransactionID = "client-1"

	deps.idempotency.EXPECT().
		CheckAndSet(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, nil, errors.New("i/o timeout"))

	_, err := uc.Submit(context.Background(), in)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if n := len(deps.store.Entries()); n != 0 {
		t.Fatalf("expected no append, got %d", n)
	}
}

func TestTransactionUseCase_Submit_FundsCheckNeedsCredential(t *testing.T) {
	needsToken := func(cfg *usecase.TransactionUseCaseConfig) { cfg.FundsCheckNeedsCredential = true }

	t.Run("without token skips lookup", func(t *testing.T) {
		uc, deps := newSubmitter(t, true, needsToken)

		// No GetBalance expectation: gomock fails the test if it is called.
		if _, err := uc.Submit(context.Background(), validInput()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n := len(deps.store.Entries()); n != 1 {
			t.Fatalf("expected one append, got %d", n)
		}
	})

	t.Run("with token checks funds", func(t *testing.T) {
		uc, deps := newSubmitter(t, true, needsToken)

		deps.balances.EXPECT().
			GetBalance(gomock.Any(), "1011226111").
			Return(int64(10), nil)

		ctx := usecase.WithBearerToken(context.Background(), "tok")
		if _, err := uc.Submit(ctx, validInput()); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("expected ErrInsufficientBalance, got %v", err)
		}
		if n := len(deps.store.Entries()); n != 0 {
			t.Fatalf("expected no append, got %d", n)
		}
	})
}

func TestTransactionUseCase_Submit_UsesConfiguredIdempotencyTTL(t *testing.T) {
	ttl := 90 * time.Minute
	uc, deps := newSubmitter(t, false, func(cfg *usecase.TransactionUseCaseConfig) {
		cfg.IdempotencyTTL = ttl
	})

	in := validInput()
	in.TransactionID = "client-1"

	gomock.InOrder(
		deps.idempotency.EXPECT().
			CheckAndSet(gomock.Any(), "transaction:client-1", gomock.Nil(), ttl).
			Return(false, nil, nil),
		deps.idempotency.EXPECT().
			Update(gomock.Any(), "transaction:client-1", []byte("1-0"), ttl).
			Return(nil),
	)

	if _, err := uc.Submit(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransactionUseCase_Submit_AppendTimeoutKeepsClaim(t *testing.T) {
	uc, deps := newSubmitter(t, false, func(cfg *usecase.TransactionUseCaseConfig) {
		cfg.SubmitTimeout = 20 * time.Millisecond
	})

	deps.store.AppendFunc = func(ctx context.Context, tx *domain.Transaction) (domain.EntryID, error) {
		<-ctx.Done()
		return domain.EntryID{}, ctx.Err()
	}

	in := validInput()
	in.TransactionID = "client-1"

	// No Release expectation: the id stays claimed so a retry reports a duplicate.
	deps.idempotency.EXPECT().
		CheckAndSet(gomock.Any(), "transaction:client-1", gomock.Nil(), gomock.Any()).
		Return(false, nil, nil)

	_, err := uc.Submit(context.Background(), in)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if deps.metrics.rejected["store_unavailable"] != 1 {
		t.Fatalf("expected store_unavailable metric, got %v", deps.metrics.rejected)
	}
}

func TestTransactionUseCase_Submit_OpenBreakerReleasesClaim(t *testing.T) {
	uc, deps := newSubmitter(t, false)

	deps.store.AppendFunc = func(ctx context.Context, tx *domain.Transaction) (domain.EntryID, error) {
		return domain.EntryID{}, domain.ErrCircuitOpen
	}

	in := validInput()
	in.TransactionID = "client-1"

	gomock.InOrder(
		deps.idempotency.EXPECT().
			CheckAndSet(gomock.Any(), "transaction:client-1", gomock.Nil(), gomock.Any()).
			Return(false, nil, nil),
		deps.idempotency.EXPECT().
			Release(gomock.Any(), "transaction:client-1").
			Return(nil),
	)

	if _, err := uc.Submit(context.Background(), in); err == nil {
		t.Fatal("expected an error")
	}
}
