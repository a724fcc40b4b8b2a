package payments

import "github.com/shopspring/decimal"

// ToMinorUnits converts a two-decimal amount to cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// FromMinorUnits converts cents back to a two-decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
