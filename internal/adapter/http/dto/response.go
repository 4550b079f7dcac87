package dto

import (
	"time"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// BalanceResponse is returned by GET /get_balance.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// NewTransactionResponse is returned once the ledger acknowledged the append.
type NewTransactionResponse struct{}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	Version string `json:"version"`
}

// HistoryEntryResponse is one ledger entry touching an account.
type HistoryEntryResponse struct {
	EntryID        string    `json:"entry_id"`
	TransactionID  string    `json:"transaction_id"`
	FromAccountNum string    `json:"from_account_num"`
	FromRoutingNum string    `json:"from_routing_num"`
	ToAccountNum   string    `json:"to_account_num"`
	ToRoutingNum   string    `json:"to_routing_num"`
	Amount         int64     `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// HistoryEntryFromDomain converts a domain entry to a response.
func HistoryEntryFromDomain(e domain.Entry) HistoryEntryResponse {
	return HistoryEntryResponse{
		EntryID:        e.ID.String(),
		TransactionID:  e.Transaction.TransactionID,
		FromAccountNum: e.Transaction.FromAccount,
		FromRoutingNum: e.Transaction.FromRouting,
		ToAccountNum:   e.Transaction.ToAccount,
		ToRoutingNum:   e.Transaction.ToRouting,
		Amount:         e.Transaction.Amount,
		Timestamp:      e.Transaction.Timestamp,
	}
}

// HistoryResponse lists entries newest first.
type HistoryResponse struct {
	AccountID    string                 `json:"account_id"`
	Transactions []HistoryEntryResponse `json:"transactions"`
}
