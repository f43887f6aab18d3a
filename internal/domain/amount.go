package domain

import "github.com/shopspring/decimal"

// AmountScale matches the numeric(14,2) columns.
const AmountScale = 2

var maxAmount = decimal.New(1, 12) // exclusive bound of numeric(14,2)

// ValidateAmount rejects zero, negative, over-precise, and out of range
// amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return ErrInvalidAmount
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return ErrInvalidAmount
	}
	return nil
}

// ParseAmount parses a decimal string and validates it.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// FitsBalance reports whether d can be stored in a wallet balance column.
func FitsBalance(d decimal.Decimal) bool {
	return d.LessThan(maxAmount)
}
