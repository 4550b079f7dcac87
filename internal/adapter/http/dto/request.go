package dto

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

// NewTransactionRequest is the body of POST /new_transaction, form-encoded or JSON.
type NewTransactionRequest struct {
	TransactionID  string      `json:"transaction_id,omitempty"`
	FromAccountNum string      `json:"from_account_num"`
	FromRoutingNum string      `json:"from_routing_num"`
	ToAccountNum   string      `json:"to_account_num"`
	ToRoutingNum   string      `json:"to_routing_num"`
	Amount         json.Number `json:"amount"`
}

// NewTransactionRequestFromForm reads the request from form values.
func NewTransactionRequestFromForm(form url.Values) NewTransactionRequest {
	return NewTransactionRequest{
		TransactionID:  form.Get("transaction_id"),
		FromAccountNum: form.Get("from_account_num"),
		FromRoutingNum: form.Get("from_routing_num"),
		ToAccountNum:   form.Get("to_account_num"),
		ToRoutingNum:   form.Get("to_routing_num"),
		Amount:         json.Number(form.Get("amount")),
	}
}

// ToUseCaseInput converts to use case input. Amount must be integer minor units.
func (r *NewTransactionRequest) ToUseCaseInput(authenticatedAccount string) (usecase.SubmitTransactionInput, error) {
	amount, err := domain.ParseAmount(r.Amount.String())
	if err != nil {
		return usecase.SubmitTransactionInput{}, err
	}

	return usecase.SubmitTransactionInput{
		TransactionID:        strings.TrimSpace(r.TransactionID),
		FromAccount:          r.FromAccountNum,
		FromRouting:          r.FromRoutingNum,
		ToAccount:            r.ToAccountNum,
		ToRouting:            r.ToRoutingNum,
		Amount:               amount,
		AuthenticatedAccount: authenticatedAccount,
	}, nil
}
