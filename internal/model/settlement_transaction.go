package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusInit      PaymentStatus = "init"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusComplete  PaymentStatus = "complete"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusExpired   PaymentStatus = "expired"
)

type TransferStatus string

const (
	TransferStatusNotSent    TransferStatus = "not_sent"
	TransferStatusProcessing TransferStatus = "processing"
	TransferStatusSent       TransferStatus = "sent"
	TransferStatusCancelled  TransferStatus = "cancelled"
	TransferStatusFailed     TransferStatus = "failed"
)

// paymentTransitions is the single authority on payment-side state moves.
// Absent keys are terminal.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusInit:      {PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusExpired},
	PaymentStatusPending:   {PaymentStatusSucceeded, PaymentStatusComplete, PaymentStatusFailed, PaymentStatusExpired},
	PaymentStatusSucceeded: {PaymentStatusComplete},
}

// transferTransitions is the single authority on transfer-side state moves.
// "sent" and "cancelled" are terminal. "processing" and "failed" may return
// to "not_sent" so the retry-reset sweep can re-admit them; "failed" may be
// claimed straight back into "processing" by a retry attempt.
var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferStatusNotSent:    {TransferStatusProcessing, TransferStatusCancelled},
	TransferStatusProcessing: {TransferStatusSent, TransferStatusFailed, TransferStatusNotSent, TransferStatusCancelled},
	TransferStatusFailed:     {TransferStatusProcessing, TransferStatusNotSent, TransferStatusCancelled},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

// Paid reports whether the payment side allows a transfer to be admitted.
func (s PaymentStatus) Paid() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusComplete
}

func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range transferTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TransferStatus) IsTerminal() bool {
	return len(transferTransitions[s]) == 0
}

// TransferSourceStatuses returns every status that may move to next.
// Store-level CAS filters are built from this so no writer can bypass the table.
func TransferSourceStatuses(next TransferStatus) []TransferStatus {
	var sources []TransferStatus
	for from, allowed := range transferTransitions {
		for _, to := range allowed {
			if to == next {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// SettlementTransaction is one fiat-payment-to-token-transfer attempt,
// keyed by the gateway checkout session id. Rows are never deleted.
type SettlementTransaction struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	SessionID       string          `gorm:"column:session_id;type:varchar(255);not null;uniqueIndex" json:"session_id"`
	AmountFiat      decimal.Decimal `gorm:"column:amount_fiat;type:numeric(20,8);not null" json:"amount_fiat"`
	FiatCurrency    string          `gorm:"column:fiat_currency;type:varchar(10);not null" json:"fiat_currency"`
	TokenSymbol     string          `gorm:"column:token_symbol;type:varchar(20);not null" json:"token_symbol"`
	ChainID         int64           `gorm:"column:chain_id;not null" json:"chain_id"`
	ReceiverAddress string          `gorm:"column:receiver_address;type:varchar(255);not null" json:"receiver_address"`

	StatusPayment  PaymentStatus  `gorm:"column:status_payment;type:varchar(20);not null;default:'init';index" json:"status_payment"`
	StatusTransfer TransferStatus `gorm:"column:status_transfer;type:varchar(20);not null;default:'not_sent';index" json:"status_transfer"`

	TransferRetryCount int        `gorm:"column:transfer_retry_count;not null;default:0" json:"transfer_retry_count"`
	LastTriedAt        *time.Time `gorm:"column:last_tried_at" json:"last_tried_at,omitempty"`
	ExpiresAt          int64      `gorm:"column:expires_at;not null;default:0" json:"expires_at"`

	TxnHash          string `gorm:"column:txn_hash;type:varchar(255)" json:"txn_hash,omitempty"`
	TokenSendTxnHash string `gorm:"column:token_send_txn_hash;type:varchar(255)" json:"token_send_txn_hash,omitempty"`

	Fee          *decimal.Decimal `gorm:"column:fee;type:numeric(20,8)" json:"fee,omitempty"`
	Net          *decimal.Decimal `gorm:"column:net;type:numeric(20,8)" json:"net,omitempty"`
	ExchangeRate *decimal.Decimal `gorm:"column:exchange_rate;type:numeric(20,8)" json:"exchange_rate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SettlementTransaction) TableName() string {
	return "settlement_transactions"
}

// Expired reports whether the payment window has lapsed. Expiry is only
// meaningful while no transfer has been admitted.
func (t *SettlementTransaction) Expired(now time.Time) bool {
	return t.StatusTransfer == TransferStatusNotSent && t.ExpiresAt < now.Unix()
}
