package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

type balanceViewStub struct {
	balances map[string]int64
	history  map[string][]domain.Entry
	limit    int
	notReady bool
}

func (s *balanceViewStub) Ready() bool {
	return !s.notReady
}

func (s *balanceViewStub) Balance(accountID string) int64 {
	return s.balances[accountID]
}

func (s *balanceViewStub) History(accountID string, limit int) []domain.Entry {
	s.limit = limit
	entries := s.history[accountID]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

type submitterStub struct {
	submitFn func(ctx context.Context, input usecase.SubmitTransactionInput) (*domain.Entry, error)
}

func (s *submitterStub) Submit(ctx context.Context, input usecase.SubmitTransactionInput) (*domain.Entry, error) {
	return s.submitFn(ctx, input)
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", domain.ErrSameAccount), http.StatusBadRequest},
		{domain.ErrInsufficientBalance, http.StatusBadRequest},
		{domain.ErrNotAuthorized, http.StatusUnauthorized},
		{domain.ErrDuplicateTransaction, http.StatusConflict},
		{fmt.Errorf("%w: xadd: timeout", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{domain.ErrBalanceUnavailable, http.StatusServiceUnavailable},
		{domain.ErrBalanceRejected, http.StatusBadGateway},
		{domain.ErrCircuitOpen, http.StatusServiceUnavailable},
		{errors.New("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := mapDomainError(tt.err); got != tt.want {
			t.Fatalf("mapDomainError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHealthHandler(t *testing.T) {
	alive := true
	var readyErr error
	h := NewHealthHandler("v1.2.3", func() bool { return alive }, func(context.Context) error { return readyErr })

	serve := func(fn http.HandlerFunc) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		fn(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		return rr
	}

	if rr := serve(h.Liveness); rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rr.Code, rr.Body.String())
	}
	if rr := serve(h.Readiness); rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rr.Code)
	}
	if rr := serve(h.Version); rr.Body.String() != "{\"version\":\"v1.2.3\"}\n" {
		t.Fatalf("unexpected version body %q", rr.Body.String())
	}

	alive = false
	readyErr = errors.New("catching up")

	if rr := serve(h.Liveness); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when replay stopped, got %d", rr.Code)
	}
	if rr := serve(h.Readiness); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while not ready, got %d", rr.Code)
	}
}

func TestHealthHandler_NilChecks(t *testing.T) {
	h := NewHealthHandler("dev", nil, nil)

	rr := httptest.NewRecorder()
	h.Readiness(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
