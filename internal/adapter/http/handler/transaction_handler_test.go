package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/dto"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

func formBody() url.Values {
	return url.Values{
		"from_account_num": {"1011226111"},
		"from_routing_num": {"883745000"},
		"to_account_num":   {"1033623433"},
		"to_routing_num":   {"883745000"},
		"amount":           {"2500"},
	}
}

func TestTransactionHandler_Create_Form(t *testing.T) {
	var captured usecase.SubmitTransactionInput
	h := NewTransactionHandler(&submitterStub{
		submitFn: func(ctx context.Context, input usecase.SubmitTransactionInput) (*domain.Entry, error) {
			captured = input
			return &domain.Entry{ID: domain.EntryID{Millis: 1700000000000, Seq: 1}}, nil
		},
	}, zerolog.Nop())

	form := formBody()
	form.Set("transaction_id", "client-1")
	req := httptest.NewRequest(http.MethodPost, "/new_transaction", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(usecase.WithAuthenticatedAccount(req.Context(), "1011226111"))
	rr := httptest.NewRecorder()

	h.Create(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.TrimSpace(rr.Body.String()) != "{}" {
		t.Fatalf("expected empty object body, got %q", rr.Body.String())
	}
	if rr.Header().Get(EntryIDHeader) != "1700000000000-1" {
		t.Fatalf("expected entry id header, got %q", rr.Header().Get(EntryIDHeader))
	}

	want := usecase.SubmitTransactionInput{
		TransactionID:        "client-1",
		FromAccount:          "1011226111",
		FromRouting:          "883745000",
		ToAccount:            "1033623433",
		ToRouting:            "883745000",
		Amount:               2500,
		AuthenticatedAccount: "1011226111",
	}
	if captured != want {
		t.Fatalf("unexpected input %+v", captured)
	}
}

func TestTransactionHandler_Create_JSON(t *testing.T) {
	var captured usecase.SubmitTransactionInput
	h := NewTransactionHandler(&submitterStub{
		submitFn: func(ctx context.Context, input usecase.SubmitTransactionInput) (*domain.Entry, error) {
			captured = input
			return &domain.Entry{}, nil
		},
	}, zerolog.Nop())

	body, _ := json.Marshal(map[string]any{
		"from_account_num": "1011226111",
		"from_routing_num": "883745000",
		"to_account_num":   "1033623433",
		"to_routing_num":   "808889588",
		"amount":           750,
	})
	req := httptest.NewRequest(http.MethodPost, "/new_transaction", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()

	h.Create(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Amount != 750 || captured.ToRouting != "808889588" {
		t.Fatalf("unexpected input %+v", captured)
	}
}

func TestTransactionHandler_Create_Errors(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		submitErr  error
		wantStatus int
		wantError  string
	}{
		{name: "fractional amount", amount: "1.5", wantStatus: http.StatusBadRequest, wantError: "invalid transaction"},
		{name: "negative amount", amount: "-3", wantStatus: http.StatusBadRequest, wantError: "invalid transaction"},
		{name: "not a number", amount: "abc", wantStatus: http.StatusBadRequest, wantError: "invalid transaction"},
		{name: "validation", amount: "10", submitErr: fmt.Errorf("%w: cannot be empty", domain.ErrInvalidAccount), wantStatus: http.StatusBadRequest, wantError: "invalid transaction"},
		{name: "insufficient", amount: "10", submitErr: domain.ErrInsufficientBalance, wantStatus: http.StatusBadRequest, wantError: "insufficient balance"},
		{name: "not authorized", amount: "10", submitErr: domain.ErrNotAuthorized, wantStatus: http.StatusUnauthorized, wantError: "sender not authenticated"},
		{name: "duplicate", amount: "10", submitErr: domain.ErrDuplicateTransaction, wantStatus: http.StatusConflict, wantError: "duplicate transaction uuid"},
		{name: "store down", amount: "10", submitErr: fmt.Errorf("%w: xadd: refused", domain.ErrStoreUnavailable), wantStatus: http.StatusServiceUnavailable, wantError: "ledger store unavailable"},
		{name: "balances down", amount: "10", submitErr: domain.ErrBalanceUnavailable, wantStatus: http.StatusServiceUnavailable, wantError: "balance service unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewTransactionHandler(&submitterStub{
				submitFn: func(ctx context.Context, input usecase.SubmitTransactionInput) (*domain.Entry, error) {
					called = true
					return nil, tt.submitErr
				},
			}, zerolog.Nop())

			form := formBody()
			form.Set("amount", tt.amount)
			req := httptest.NewRequest(http.MethodPost, "/new_transaction", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rr := httptest.NewRecorder()

			h.Create(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			var resp dto.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode error: %v", err)
			}
			if resp.Error != tt.wantError {
				t.Fatalf("expected error %q, got %q", tt.wantError, resp.Error)
			}
			if tt.submitErr == nil && called {
				t.Fatal("unparseable amount must not reach the submitter")
			}
		})
	}
}

func TestTransactionHandler_Create_MalformedJSON(t *testing.T) {
	h := NewTransactionHandler(&submitterStub{
		submitFn: func(ctx context.Context, input usecase.SubmitTransactionInput) (*domain.Entry, error) {
			t.Fatal("submitter must not be called")
			return nil, nil
		},
	}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/new_transaction", strings.NewReader(`{"amount":`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.Create(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
