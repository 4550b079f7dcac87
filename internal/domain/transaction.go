package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the immutable unit of the ledger. Amount is in minor currency units.
type Transaction struct {
	TransactionID string
	FromAccount   string
	FromRouting   string
	ToAccount     string
	ToRouting     string
	Amount        int64
	Timestamp     time.Time
}

// IsSelfTransfer reports whether both legs name the same account at the same institution.
func (t *Transaction) IsSelfTransfer() bool {
	return t.FromAccount == t.ToAccount && t.FromRouting == t.ToRouting
}

// IsExternalDeposit reports whether money enters the local bank from another institution.
func (t *Transaction) IsExternalDeposit(localRouting string) bool {
	return t.FromRouting != localRouting && t.ToRouting == localRouting
}

// Deltas returns the signed balance contributions of t for the accounts held at localRouting.
// A leg at another institution contributes nothing; a transfer between two local accounts
// contributes to both.
func (t *Transaction) Deltas(localRouting string) map[string]int64 {
	deltas := make(map[string]int64, 2)

	if t.FromRouting == localRouting {
		deltas[t.FromAccount] -= t.Amount
	}

	if t.ToRouting == localRouting {
		deltas[t.ToAccount] += t.Amount
	}

	return deltas
}

// Snapshot is a materialized balance map together with the log position it reflects.
type Snapshot struct {
	Cursor   EntryID
	Balances map[string]int64
	TakenAt  time.Time
}

// FormatMinorUnits renders an amount of minor units as a two-decimal currency string.
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
