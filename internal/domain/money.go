package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places kept for stored amounts.
const MinorUnitPlaces = 2

// RoundMinor rounds half away from zero to the minor currency unit.
func RoundMinor(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// ParseAmount parses a money string such as "75.00". Empty input is zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrValidationMeta("invalid amount", map[string]string{"value": s})
	}
	return d, nil
}
