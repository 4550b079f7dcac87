package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Validation constants
const (
	MaxIdentifierLength = 64
	MaxAmount           = int64(1_000_000_000_000) // 10 billion in major units
)

var (
	// account ids are 10 digits, routing numbers 9 digits
	accountRegex = regexp.MustCompile(`^[0-9]{10}$`)
	routingRegex = regexp.MustCompile(`^[0-9]{9}$`)
)

// ValidationRules tunes how strictly identifiers are checked.
type ValidationRules struct {
	// StrictFormat requires 10-digit account numbers and 9-digit routing numbers.
	StrictFormat bool
}

// ValidateTransaction checks a submission before it may be appended to the log.
func ValidateTransaction(t *Transaction, rules ValidationRules) error {
	if err := validateIdentifier(t.FromAccount, accountRegex, rules, ErrInvalidAccount); err != nil {
		return fmt.Errorf("from account: %w", err)
	}

	if err := validateIdentifier(t.ToAccount, accountRegex, rules, ErrInvalidAccount); err != nil {
		return fmt.Errorf("to account: %w", err)
	}

	if err := validateIdentifier(t.FromRouting, routingRegex, rules, ErrInvalidRouting); err != nil {
		return fmt.Errorf("from routing number: %w", err)
	}

	if err := validateIdentifier(t.ToRouting, routingRegex, rules, ErrInvalidRouting); err != nil {
		return fmt.Errorf("to routing number: %w", err)
	}

	if t.IsSelfTransfer() {
		return ErrSameAccount
	}

	return ValidateAmount(t.Amount)
}

// ValidateAmount requires a strictly positive amount of minor units.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if amount > MaxAmount {
		return fmt.Errorf("%w: maximum amount is %d", ErrAmountTooLarge, MaxAmount)
	}

	return nil
}

// ParseAmount parses an integer amount of minor units. Fractions are rejected.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}

	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, raw)
	}

	if err := ValidateAmount(amount); err != nil {
		return 0, err
	}

	return amount, nil
}

func validateIdentifier(id string, format *regexp.Regexp, rules ValidationRules, kind error) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", kind)
	}

	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", kind, MaxIdentifierLength)
	}

	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: contains whitespace", kind)
	}

	if rules.StrictFormat && !format.MatchString(id) {
		return fmt.Errorf("%w: %q", kind, id)
	}

	return nil
}
