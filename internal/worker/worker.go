package worker

import (
	"strconv"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/evmrpc"
	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/oracle"
	"github.com/dhblabs/settlement-backend/internal/queue"
	"github.com/dhblabs/settlement-backend/internal/settlement"
	"github.com/dhblabs/settlement-backend/internal/store"
	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

const (
	JobVerifyPayment = "verify_payment"
	JobTransferToken = "transfer_token"
)

// ErrInsufficientGas aborts a transfer attempt before broadcasting; it
// counts toward the retry budget.
var ErrInsufficientGas = errors.New("insufficient native balance for gas")

type VerifyPaymentPayload struct {
	SessionID string `json:"session_id"`
}

type TransferTokenPayload struct {
	SessionID       string `json:"session_id"`
	ChainID         int64  `json:"chain_id"`
	ReceiverAddress string `json:"receiver_address"`
	AmountFiat      string `json:"amount_fiat"`
	FiatCurrency    string `json:"fiat_currency"`
	TokenSymbol     string `json:"token_symbol"`
}

// VerifyJobKey is the idempotency key for payment verification; a pending
// or active verify job for the same session rejects duplicates.
func VerifyJobKey(sessionID string) string {
	return "verify:" + sessionID
}

// TransferJobKey is the idempotency key for first-admission transfer jobs,
// derived deterministically from the session so a duplicate enqueue before
// the prior job starts is rejected by the queue.
func TransferJobKey(sessionID string) string {
	return "transfer:" + sessionID
}

// transferRetryKey distinguishes handler-scheduled retries from first
// admission; the attempt number keeps each retry individually deduped.
func transferRetryKey(sessionID string, attempt int) string {
	return "transfer:" + sessionID + ":attempt:" + strconv.Itoa(attempt)
}

type Worker struct {
	db        *gorm.DB
	store     *store.Store
	service   settlement.ISettlement
	gateway   gateway.IGateway
	oracle    oracle.IOracle
	registry  *evmrpc.Registry
	queue     queue.IQueue
	appConfig *config.AppConfig
	logger    *logger.Logger
}

func New(
	db *gorm.DB,
	s *store.Store,
	service settlement.ISettlement,
	gateway gateway.IGateway,
	oracle oracle.IOracle,
	registry *evmrpc.Registry,
	q queue.IQueue,
	appConfig *config.AppConfig,
	logger *logger.Logger,
) *Worker {
	return &Worker{
		db:        db,
		store:     s,
		service:   service,
		gateway:   gateway,
		oracle:    oracle,
		registry:  registry,
		queue:     q,
		appConfig: appConfig,
		logger:    logger,
	}
}

// RegisterHandlers binds the job processors to their queue job names.
func (w *Worker) RegisterHandlers() {
	w.queue.Register(JobVerifyPayment, w.HandleVerifyPayment)
	w.queue.Register(JobTransferToken, w.HandleTransferToken)
}
