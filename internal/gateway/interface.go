package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionStatusPaid   SessionStatus = "paid"
	SessionStatusUnpaid SessionStatus = "unpaid"
)

type CheckoutRequest struct {
	Amount     decimal.Decimal
	Currency   string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type CheckoutSession struct {
	SessionID string
	URL       string
	ExpiresAt int64
}

type ChargeBreakdown struct {
	Fee          decimal.Decimal
	Net          decimal.Decimal
	ExchangeRate decimal.Decimal
}

// IGateway is the payment gateway contract: hosted checkout sessions,
// live payment status, charge reconciliation figures and webhook signature
// verification.
type IGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
	GetChargeBreakdown(ctx context.Context, sessionID string) (*ChargeBreakdown, error)
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) error
}
