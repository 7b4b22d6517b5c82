package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts user input into a positive decimal amount.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted. Empty,
// non-numeric, zero and negative inputs are rejected with ErrInvalidAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// MustAmount parses a literal amount and panics on bad input. Intended for
// tests and constants.
func MustAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic("core: invalid amount literal " + s)
	}
	return d
}
