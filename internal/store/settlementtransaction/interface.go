package settlementtransaction

import (
	"time"

	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/model"
)

// IStore is the persistence boundary for settlement rows. Every mutation is
// an atomic "find matching filter, apply patch" so concurrent writers cannot
// both advance the same record; callers check the returned affected count.
type IStore interface {
	Create(tx *gorm.DB, record *model.SettlementTransaction) (*model.SettlementTransaction, error)
	GetBySessionID(tx *gorm.DB, sessionID string) (*model.SettlementTransaction, error)

	// AdoptGatewaySession atomically replaces the temporary placeholder key
	// with the gateway's session id and advances init -> pending.
	AdoptGatewaySession(tx *gorm.DB, placeholderID, sessionID string, expiresAt int64) (int64, error)

	// TransitionPayment applies a payment-status CAS: the row must currently
	// hold one of from. Extra columns may be patched in the same write.
	TransitionPayment(tx *gorm.DB, sessionID string, from []model.PaymentStatus, to model.PaymentStatus, extra map[string]interface{}) (int64, error)

	// TransitionTransfer applies a transfer-side CAS patch guarded by the
	// current transfer statuses in from.
	TransitionTransfer(tx *gorm.DB, sessionID string, from []model.TransferStatus, patch map[string]interface{}) (int64, error)

	// SetFeeDetailsOnce writes fee/net/exchange rate only if they are still
	// unset; re-running is a no-op.
	SetFeeDetailsOnce(tx *gorm.DB, sessionID string, fee, net, exchangeRate string) (int64, error)

	// MarkExpired bulk-expires unpaid rows whose deadline passed and whose
	// transfer never left not_sent.
	MarkExpired(tx *gorm.DB, now time.Time) (int64, error)

	// FindPendingVerifiable returns pending, unexpired rows awaiting a
	// payment-status check.
	FindPendingVerifiable(tx *gorm.DB, now time.Time) ([]model.SettlementTransaction, error)

	// FindOldestTransferable returns the single oldest paid row whose
	// transfer has not been admitted yet, or gorm.ErrRecordNotFound.
	FindOldestTransferable(tx *gorm.DB) (*model.SettlementTransaction, error)

	// ResetStuckTransfers re-opens paid rows stuck in processing/failed and
	// still under the retry budget, skipping rows that already broadcast and
	// rows tried at or after staleBefore (those may have a live job).
	ResetStuckTransfers(tx *gorm.DB, maxRetries int, staleBefore time.Time) (int64, error)

	IncrementTransferRetry(tx *gorm.DB, sessionID string, triedAt time.Time) error
	SetTokenSendTxnHash(tx *gorm.DB, sessionID, txnHash string) error
}
