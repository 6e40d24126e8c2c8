package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dhblabs/settlement-backend/internal/model"
)

type CreateRequest struct {
	ChainID         int64
	ReceiverAddress string
	Amount          decimal.Decimal
	Currency        string
}

type CreateResult struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// TransferPatch is the partial transfer-side update applied by job
// processors. Only non-nil optional fields are written.
type TransferPatch struct {
	Status           model.TransferStatus
	LastTriedAt      *time.Time
	TokenSendTxnHash *string
}

// ISettlement exposes the business operations of the settlement pipeline.
// All writes go through compare-and-swap updates on the transaction store.
type ISettlement interface {
	// CreateSettlement persists the transfer intent, opens a hosted checkout
	// session and binds the gateway session id to the record.
	CreateSettlement(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// GetBySessionID looks up one settlement row.
	GetBySessionID(ctx context.Context, sessionID string) (*model.SettlementTransaction, error)

	// SyncFeeDetails pulls the gateway's charge breakdown once; a row whose
	// figures are already populated is left untouched.
	SyncFeeDetails(ctx context.Context, sessionID string) error

	// TransitionPaymentStatus applies a payment-side CAS move. Setting
	// failed also force-sets the transfer side to cancelled in the same
	// write.
	TransitionPaymentStatus(ctx context.Context, sessionID string, to model.PaymentStatus) error

	// TransitionTransferStatus applies a transfer-side CAS patch. A row in
	// sent never moves again.
	TransitionTransferStatus(ctx context.Context, sessionID string, patch TransferPatch) error
}
