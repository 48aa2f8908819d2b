package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept for every amount and balance.
const AmountScale = 2

// ValidateAmount enforces amount > 0 and scale <= AmountScale.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidRequest)
	}
	if !d.Equal(d.Truncate(AmountScale)) {
		return fmt.Errorf("%w: amount must have at most %d decimal places", ErrInvalidRequest, AmountScale)
	}
	return nil
}

// NormalizeAmount fixes the exponent so equal values compare and print identically.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// FormatAmount renders d with exactly AmountScale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}
