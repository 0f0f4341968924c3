// Package money converts between API amounts in major units and ledger
// amounts in minor units (paise).
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

func ToMinor(d decimal.Decimal) int64 {
	return d.Round(2).Mul(hundred).IntPart()
}

func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
