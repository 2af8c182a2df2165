package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrency is used when configuration does not override it.
const DefaultCurrency = "USD"

// NormalizeCurrency upper-cases and validates an ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("domain: currency is required")
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("domain: invalid currency %q: %w", code, err)
	}
	return unit.String(), nil
}

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// MinorUnitScale is the number of decimal places in the minor unit of code: 2 for USD, 0 for JPY.
// Unknown or empty codes use 2.
func MinorUnitScale(code string) int32 {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// ToMinorUnits converts an amount to the integer minor units card gateways expect for code.
func ToMinorUnits(amount decimal.Decimal, code string) int64 {
	scale := MinorUnitScale(code)
	return amount.Round(scale).Shift(scale).IntPart()
}

// FromMinorUnits converts integer minor units of code back into a decimal amount.
func FromMinorUnits(minor int64, code string) decimal.Decimal {
	return decimal.New(minor, -MinorUnitScale(code))
}
