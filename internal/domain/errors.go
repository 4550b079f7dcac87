package domain

import "errors"

var (
	// Validation errors
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidAccount  = errors.New("invalid account details")
	ErrInvalidRouting  = errors.New("invalid routing number")
	ErrSameAccount     = errors.New("can't send to self")
	ErrAmountTooLarge  = errors.New("amount exceeds maximum allowed")
	ErrInvalidEntryID  = errors.New("invalid entry id")
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// Policy errors
	ErrNotAuthorized        = errors.New("sender not authenticated")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrDuplicateTransaction = errors.New("duplicate transaction uuid")

	// Infrastructure errors
	ErrStoreUnavailable   = errors.New("ledger store unavailable")
	ErrBalanceUnavailable = errors.New("balance service unavailable")
	ErrBalanceRejected    = errors.New("balance lookup rejected")
	ErrCircuitOpen        = errors.New("circuit breaker open")

	// Auth errors
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// IsValidationError reports whether err rejects a submission on its content alone.
// Such errors are terminal: the request must not be retried and the log is never touched.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidAccount),
		errors.Is(err, ErrInvalidRouting),
		errors.Is(err, ErrSameAccount),
		errors.Is(err, ErrAmountTooLarge):
		return true
	default:
		return false
	}
}
