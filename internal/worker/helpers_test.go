package worker

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/evmrpc"
	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/model"
	"github.com/dhblabs/settlement-backend/internal/oracle"
	"github.com/dhblabs/settlement-backend/internal/queue"
	"github.com/dhblabs/settlement-backend/internal/settlement"
	"github.com/dhblabs/settlement-backend/internal/store"
	"github.com/dhblabs/settlement-backend/internal/store/settlementtransaction"
	"github.com/dhblabs/settlement-backend/internal/types/environments"
	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

var errNotImplemented = errors.New("not implemented in fake")

// fixture wires a Worker against in-memory fakes that all mutate the same
// settlement record, so a test observes the end state the way a database
// reader would.
type fixture struct {
	record   *model.SettlementTransaction
	service  *fakeService
	gateway  *fakeGateway
	oracle   *fakeOracle
	chain    *fakeChain
	queue    *fakeQueue
	txStore  *fakeTxStore
	worker   *Worker
	settings config.SettlementConfig
}

func newFixture(record *model.SettlementTransaction) *fixture {
	f := &fixture{
		record: record,
		settings: config.SettlementConfig{
			SessionTTLMinutes:     30,
			PaymentTimeoutMinutes: 20,
			MaxTransferRetries:    3,
			TransferRetrySeconds:  60,
			VerifyWorkers:         4,
		},
	}

	f.service = &fakeService{record: record}
	f.txStore = &fakeTxStore{record: record}
	f.gateway = &fakeGateway{status: gateway.SessionStatusUnpaid}
	f.oracle = &fakeOracle{price: decimal.NewFromInt(2)}
	f.chain = &fakeChain{
		chainID:       record.ChainID,
		symbol:        record.TokenSymbol,
		decimals:      6,
		signer:        "0x00000000000000000000000000000000000000aa",
		balance:       big.NewInt(1_000_000_000_000_000_000),
		gasLimit:      60_000,
		gasPrice:      big.NewInt(1_000_000_000),
		sendHash:      "0xdeadbeef",
		receiptStatus: ethtypes.ReceiptStatusSuccessful,
	}
	f.queue = &fakeQueue{seen: map[string]bool{}}

	registry := evmrpc.NewRegistryFromClients(map[int64]evmrpc.IEvmRPC{
		record.ChainID: f.chain,
	})

	appConfig := &config.AppConfig{
		Environment: environments.Test,
		Settlement:  f.settings,
	}

	f.worker = New(
		nil,
		&store.Store{SettlementTransaction: f.txStore},
		f.service,
		f.gateway,
		f.oracle,
		registry,
		f.queue,
		appConfig,
		logger.New(environments.Test),
	)
	return f
}

// fakeService applies the same transition rules as the real service against
// the shared record.
type fakeService struct {
	mu     sync.Mutex
	record *model.SettlementTransaction

	paymentMoves  []model.PaymentStatus
	transferMoves []settlement.TransferPatch
}

func (s *fakeService) CreateSettlement(ctx context.Context, req settlement.CreateRequest) (*settlement.CreateResult, error) {
	return nil, errNotImplemented
}

func (s *fakeService) GetBySessionID(ctx context.Context, sessionID string) (*model.SettlementTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.record.SessionID {
		return nil, settlement.ErrSessionNotFound
	}
	snapshot := *s.record
	return &snapshot, nil
}

func (s *fakeService) SyncFeeDetails(ctx context.Context, sessionID string) error {
	return nil
}

func (s *fakeService) TransitionPaymentStatus(ctx context.Context, sessionID string, to model.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.record.SessionID {
		return settlement.ErrSessionNotFound
	}
	if !s.record.StatusPayment.CanTransitionTo(to) {
		return errors.Wrapf(settlement.ErrInvalidTransition, "payment %s -> %s", s.record.StatusPayment, to)
	}
	s.record.StatusPayment = to
	if to == model.PaymentStatusFailed {
		s.record.StatusTransfer = model.TransferStatusCancelled
	}
	s.paymentMoves = append(s.paymentMoves, to)
	return nil
}

func (s *fakeService) TransitionTransferStatus(ctx context.Context, sessionID string, patch settlement.TransferPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.record.SessionID {
		return settlement.ErrSessionNotFound
	}
	if s.record.StatusTransfer == model.TransferStatusSent {
		return errors.Wrap(settlement.ErrInvalidTransition, "transfer already sent")
	}
	if !s.record.StatusTransfer.CanTransitionTo(patch.Status) {
		return errors.Wrapf(settlement.ErrInvalidTransition, "transfer %s -> %s", s.record.StatusTransfer, patch.Status)
	}
	s.record.StatusTransfer = patch.Status
	if patch.LastTriedAt != nil {
		s.record.LastTriedAt = patch.LastTriedAt
	}
	if patch.TokenSendTxnHash != nil {
		s.record.TokenSendTxnHash = *patch.TokenSendTxnHash
	}
	s.transferMoves = append(s.transferMoves, patch)
	return nil
}

// fakeTxStore implements the CAS semantics of the transaction store against
// the shared record. Methods the job processors never call return
// errNotImplemented so an unexpected call fails the test loudly.
type fakeTxStore struct {
	mu     sync.Mutex
	record *model.SettlementTransaction
}

var _ settlementtransaction.IStore = (*fakeTxStore)(nil)

func (f *fakeTxStore) Create(tx *gorm.DB, record *model.SettlementTransaction) (*model.SettlementTransaction, error) {
	return nil, errNotImplemented
}

func (f *fakeTxStore) GetBySessionID(tx *gorm.DB, sessionID string) (*model.SettlementTransaction, error) {
	return nil, errNotImplemented
}

func (f *fakeTxStore) AdoptGatewaySession(tx *gorm.DB, placeholderID, sessionID string, expiresAt int64) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeTxStore) TransitionPayment(tx *gorm.DB, sessionID string, from []model.PaymentStatus, to model.PaymentStatus, extra map[string]interface{}) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeTxStore) TransitionTransfer(tx *gorm.DB, sessionID string, from []model.TransferStatus, patch map[string]interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID != f.record.SessionID {
		return 0, nil
	}
	matched := false
	for _, status := range from {
		if f.record.StatusTransfer == status {
			matched = true
			break
		}
	}
	if !matched {
		return 0, nil
	}
	if status, ok := patch["status_transfer"]; ok {
		f.record.StatusTransfer = status.(model.TransferStatus)
	}
	if triedAt, ok := patch["last_tried_at"]; ok {
		t := triedAt.(time.Time)
		f.record.LastTriedAt = &t
	}
	if count, ok := patch["transfer_retry_count"]; ok {
		f.record.TransferRetryCount = count.(int)
	}
	return 1, nil
}

func (f *fakeTxStore) SetFeeDetailsOnce(tx *gorm.DB, sessionID string, fee, net, exchangeRate string) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeTxStore) MarkExpired(tx *gorm.DB, now time.Time) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeTxStore) FindPendingVerifiable(tx *gorm.DB, now time.Time) ([]model.SettlementTransaction, error) {
	return nil, errNotImplemented
}

func (f *fakeTxStore) FindOldestTransferable(tx *gorm.DB) (*model.SettlementTransaction, error) {
	return nil, errNotImplemented
}

func (f *fakeTxStore) ResetStuckTransfers(tx *gorm.DB, maxRetries int, staleBefore time.Time) (int64, error) {
	return 0, errNotImplemented
}

func (f *fakeTxStore) IncrementTransferRetry(tx *gorm.DB, sessionID string, triedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID != f.record.SessionID {
		return gorm.ErrRecordNotFound
	}
	f.record.TransferRetryCount++
	f.record.LastTriedAt = &triedAt
	return nil
}

func (f *fakeTxStore) SetTokenSendTxnHash(tx *gorm.DB, sessionID, txnHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID != f.record.SessionID {
		return gorm.ErrRecordNotFound
	}
	f.record.TokenSendTxnHash = txnHash
	return nil
}

type fakeGateway struct {
	status      gateway.SessionStatus
	statusErr   error
	statusCalls int
}

var _ gateway.IGateway = (*fakeGateway)(nil)

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	return nil, errNotImplemented
}

func (g *fakeGateway) GetSessionStatus(ctx context.Context, sessionID string) (gateway.SessionStatus, error) {
	g.statusCalls++
	if g.statusErr != nil {
		return "", g.statusErr
	}
	return g.status, nil
}

func (g *fakeGateway) GetChargeBreakdown(ctx context.Context, sessionID string) (*gateway.ChargeBreakdown, error) {
	return nil, errNotImplemented
}

func (g *fakeGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	return nil
}

type fakeOracle struct {
	price decimal.Decimal
	err   error
}

func (o *fakeOracle) GetPrice(ctx context.Context, symbol, fiatCurrency string) (*oracle.Quote, error) {
	if o.err != nil {
		return nil, o.err
	}
	return &oracle.Quote{
		Symbol:       symbol,
		FiatCurrency: fiatCurrency,
		Price:        o.price,
		AsOf:         time.Now(),
	}, nil
}

type fakeChain struct {
	chainID  int64
	symbol   string
	decimals int
	signer   string

	balance  *big.Int
	gasLimit uint64
	gasPrice *big.Int

	sendHash    string
	sendErr     error
	estimateErr error

	receiptStatus uint64
	receiptErr    error

	sendCalls int
	waitCalls int
	sentUnits *big.Int
}

var _ evmrpc.IEvmRPC = (*fakeChain)(nil)

func (c *fakeChain) ChainID() int64        { return c.chainID }
func (c *fakeChain) TokenSymbol() string   { return c.symbol }
func (c *fakeChain) TokenDecimals() int    { return c.decimals }
func (c *fakeChain) SignerAddress() string { return c.signer }

func (c *fakeChain) NativeBalanceOf(ctx context.Context, address string) (*big.Int, error) {
	return c.balance, nil
}

func (c *fakeChain) EstimateTransferGas(ctx context.Context, to string, amountUnits *big.Int) (uint64, *big.Int, error) {
	if c.estimateErr != nil {
		return 0, nil, c.estimateErr
	}
	return c.gasLimit, c.gasPrice, nil
}

func (c *fakeChain) SendTransfer(ctx context.Context, to string, amountUnits *big.Int) (string, error) {
	c.sendCalls++
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sentUnits = new(big.Int).Set(amountUnits)
	return c.sendHash, nil
}

func (c *fakeChain) WaitForReceipt(ctx context.Context, txHash string) (*ethtypes.Receipt, error) {
	c.waitCalls++
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	return &ethtypes.Receipt{Status: c.receiptStatus}, nil
}

type enqueued struct {
	jobName string
	payload interface{}
	opts    queue.Options
}

type fakeQueue struct {
	mu       sync.Mutex
	seen     map[string]bool
	enqueues []enqueued
	err      error
}

var _ queue.IQueue = (*fakeQueue)(nil)

func (q *fakeQueue) Register(jobName string, handler queue.Handler) {}

func (q *fakeQueue) Enqueue(ctx context.Context, jobName string, payload interface{}, opts queue.Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if opts.IdempotencyKey != "" {
		if q.seen[opts.IdempotencyKey] {
			return queue.ErrDuplicateJob
		}
		q.seen[opts.IdempotencyKey] = true
	}
	q.enqueues = append(q.enqueues, enqueued{jobName: jobName, payload: payload, opts: opts})
	return nil
}

func (q *fakeQueue) Start() {}
func (q *fakeQueue) Stop()  {}

func pendingRecord(sessionID string) *model.SettlementTransaction {
	return &model.SettlementTransaction{
		SessionID:       sessionID,
		AmountFiat:      decimal.NewFromInt(100),
		FiatCurrency:    "USD",
		TokenSymbol:     "DHB",
		ChainID:         8453,
		ReceiverAddress: "0x00000000000000000000000000000000000000bb",
		StatusPayment:   model.PaymentStatusPending,
		StatusTransfer:  model.TransferStatusNotSent,
		ExpiresAt:       time.Now().Add(30 * time.Minute).Unix(),
		CreatedAt:       time.Now(),
	}
}

func paidRecord(sessionID string) *model.SettlementTransaction {
	record := pendingRecord(sessionID)
	record.StatusPayment = model.PaymentStatusSucceeded
	return record
}

func verifyPayloadBytes(sessionID string) []byte {
	return []byte(`{"session_id":"` + sessionID + `"}`)
}

func transferPayloadBytes(record *model.SettlementTransaction) []byte {
	payload := TransferTokenPayload{
		SessionID:       record.SessionID,
		ChainID:         record.ChainID,
		ReceiverAddress: record.ReceiverAddress,
		AmountFiat:      record.AmountFiat.String(),
		FiatCurrency:    record.FiatCurrency,
		TokenSymbol:     record.TokenSymbol,
	}
	raw, _ := json.Marshal(payload)
	return raw
}
