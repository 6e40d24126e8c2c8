package settlementtransaction

import (
	"time"

	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/model"
)

type Store struct {
}

func New() IStore {
	return &Store{}
}

func (s *Store) Create(tx *gorm.DB, record *model.SettlementTransaction) (*model.SettlementTransaction, error) {
	return record, tx.Create(record).Error
}

func (s *Store) GetBySessionID(tx *gorm.DB, sessionID string) (*model.SettlementTransaction, error) {
	var record model.SettlementTransaction
	err := tx.Where("session_id = ?", sessionID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) AdoptGatewaySession(tx *gorm.DB, placeholderID, sessionID string, expiresAt int64) (int64, error) {
	result := tx.Model(&model.SettlementTransaction{}).
		Where("session_id = ? AND status_payment = ?", placeholderID, model.PaymentStatusInit).
		Updates(map[string]interface{}{
			"session_id":     sessionID,
			"status_payment": model.PaymentStatusPending,
			"expires_at":     expiresAt,
		})
	return result.RowsAffected, result.Error
}

func (s *Store) TransitionPayment(tx *gorm.DB, sessionID string, from []model.PaymentStatus, to model.PaymentStatus, extra map[string]interface{}) (int64, error) {
	patch := map[string]interface{}{
		"status_payment": to,
	}
	for k, v := range extra {
		patch[k] = v
	}

	result := tx.Model(&model.SettlementTransaction{}).
		Where("session_id = ? AND status_payment IN ?", sessionID, from).
		Updates(patch)
	return result.RowsAffected, result.Error
}

func (s *Store) TransitionTransfer(tx *gorm.DB, sessionID string, from []model.TransferStatus, patch map[string]interface{}) (int64, error) {
	result := tx.Model(&model.SettlementTransaction{}).
		Where("session_id = ? AND status_transfer IN ?", sessionID, from).
		Updates(patch)
	return result.RowsAffected, result.Error
}

func (s *Store) SetFeeDetailsOnce(tx *gorm.DB, sessionID string, fee, net, exchangeRate string) (int64, error) {
	result := tx.Model(&model.SettlementTransaction{}).
		Where("session_id = ? AND fee IS NULL AND net IS NULL", sessionID).
		Updates(map[string]interface{}{
			"fee":           fee,
			"net":           net,
			"exchange_rate": exchangeRate,
		})
	return result.RowsAffected, result.Error
}

func (s *Store) MarkExpired(tx *gorm.DB, now time.Time) (int64, error) {
	result := tx.Model(&model.SettlementTransaction{}).
		Where("status_payment IN ? AND status_transfer = ? AND expires_at < ?",
			[]model.PaymentStatus{model.PaymentStatusInit, model.PaymentStatusPending},
			model.TransferStatusNotSent,
			now.Unix(),
		).
		Update("status_payment", model.PaymentStatusExpired)
	return result.RowsAffected, result.Error
}

func (s *Store) FindPendingVerifiable(tx *gorm.DB, now time.Time) ([]model.SettlementTransaction, error) {
	// init rows still carry the placeholder id the gateway never saw, so
	// only pending rows are worth polling
	var records []model.SettlementTransaction
	err := tx.
		Where("status_payment = ? AND status_transfer = ? AND expires_at > ?",
			model.PaymentStatusPending,
			model.TransferStatusNotSent,
			now.Unix(),
		).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) FindOldestTransferable(tx *gorm.DB) (*model.SettlementTransaction, error) {
	var record model.SettlementTransaction
	err := tx.
		Where("status_payment IN ? AND status_transfer = ?",
			[]model.PaymentStatus{model.PaymentStatusSucceeded, model.PaymentStatusComplete},
			model.TransferStatusNotSent,
		).
		Order("created_at ASC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) ResetStuckTransfers(tx *gorm.DB, maxRetries int, staleBefore time.Time) (int64, error) {
	// the staleness guard keeps the sweep off rows a live job claimed moments
	// ago; releasing one of those re-admits the session while the first job
	// is still between claim and broadcast, and both would send
	result := tx.Model(&model.SettlementTransaction{}).
		Where("status_payment IN ? AND status_transfer IN ? AND transfer_retry_count < ? AND (token_send_txn_hash IS NULL OR token_send_txn_hash = '') AND (last_tried_at IS NULL OR last_tried_at < ?)",
			[]model.PaymentStatus{model.PaymentStatusSucceeded, model.PaymentStatusComplete},
			[]model.TransferStatus{model.TransferStatusProcessing, model.TransferStatusFailed},
			maxRetries,
			staleBefore,
		).
		Update("status_transfer", model.TransferStatusNotSent)
	return result.RowsAffected, result.Error
}

func (s *Store) IncrementTransferRetry(tx *gorm.DB, sessionID string, triedAt time.Time) error {
	return tx.Model(&model.SettlementTransaction{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"transfer_retry_count": gorm.Expr("transfer_retry_count + 1"),
			"last_tried_at":        triedAt,
		}).Error
}

func (s *Store) SetTokenSendTxnHash(tx *gorm.DB, sessionID, txnHash string) error {
	return tx.Model(&model.SettlementTransaction{}).
		Where("session_id = ?", sessionID).
		Update("token_send_txn_hash", txnHash).Error
}
