package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a token price in a fiat currency at a point in time.
type Quote struct {
	Symbol       string          `json:"symbol"`
	FiatCurrency string          `json:"fiat_currency"`
	Price        decimal.Decimal `json:"price"`
	AsOf         time.Time       `json:"as_of"`
}

type IOracle interface {
	// GetPrice returns the current token price in the given fiat currency.
	// Returns ErrPriceUnavailable when the oracle has no quote for the pair.
	GetPrice(ctx context.Context, symbol, fiatCurrency string) (*Quote, error)
}
