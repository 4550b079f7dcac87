package redis

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// Stream field names, shared with the services that already read these streams.
const (
	fieldTransactionID = "transaction_id"
	fieldFromAccount   = "from_account_num"
	fieldFromRouting   = "from_routing_num"
	fieldToAccount     = "to_account_num"
	fieldToRouting     = "to_routing_num"
	fieldAmount        = "amount"
	fieldDate          = "date"
)

func encodeTransaction(tx *domain.Transaction) map[string]any {
	values := map[string]any{
		fieldFromAccount: tx.FromAccount,
		fieldFromRouting: tx.FromRouting,
		fieldToAccount:   tx.ToAccount,
		fieldToRouting:   tx.ToRouting,
		fieldAmount:      strconv.FormatInt(tx.Amount, 10),
	}
	if tx.TransactionID != "" {
		values[fieldTransactionID] = tx.TransactionID
	}
	if !tx.Timestamp.IsZero() {
		seconds := float64(tx.Timestamp.UnixNano()) / float64(time.Second)
		values[fieldDate] = strconv.FormatFloat(seconds, 'f', 6, 64)
	}
	return values
}

// decodeTransaction is lenient: an unreadable amount decodes as 0 so the
// replay skips the entry instead of stalling on it.
func decodeTransaction(values map[string]any) domain.Transaction {
	tx := domain.Transaction{
		TransactionID: stringField(values, fieldTransactionID),
		FromAccount:   stringField(values, fieldFromAccount),
		FromRouting:   stringField(values, fieldFromRouting),
		ToAccount:     stringField(values, fieldToAccount),
		ToRouting:     stringField(values, fieldToRouting),
	}

	if amount, err := strconv.ParseInt(stringField(values, fieldAmount), 10, 64); err == nil {
		tx.Amount = amount
	}

	if seconds, err := strconv.ParseFloat(stringField(values, fieldDate), 64); err == nil {
		whole, frac := math.Modf(seconds)
		tx.Timestamp = time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	}

	return tx
}

func stringField(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func decodeEntries(messages []redis.XMessage) ([]domain.Entry, error) {
	entries := make([]domain.Entry, 0, len(messages))
	for _, msg := range messages {
		id, err := domain.ParseEntryID(msg.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.Entry{ID: id, Transaction: decodeTransaction(msg.Values)})
	}
	return entries, nil
}
