package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Web3BigInt carries an on-chain amount in base units alongside the token's
// decimal precision.
type Web3BigInt struct {
	Value   string `json:"value"`
	Decimal int    `json:"decimal"`
}

// FromDecimal converts a human-readable decimal amount into base units.
func FromDecimal(amount decimal.Decimal, decimals int) *Web3BigInt {
	units := amount.Shift(int32(decimals)).Truncate(0)
	return &Web3BigInt{
		Value:   units.BigInt().String(),
		Decimal: decimals,
	}
}

func (w *Web3BigInt) BigInt() (*big.Int, bool) {
	return new(big.Int).SetString(w.Value, 10)
}
