package worker

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhblabs/settlement-backend/internal/model"
)

func TestHandleTransferToken_SuccessSendsAndMarksSent(t *testing.T) {
	record := paidRecord("cs_test_send")
	f := newFixture(record)

	err := f.worker.HandleTransferToken(context.Background(), transferPayloadBytes(record))
	require.NoError(t, err)

	assert.Equal(t, model.TransferStatusSent, record.StatusTransfer)
	assert.Equal(t, "0xdeadbeef", record.TokenSendTxnHash)
	assert.Equal(t, 0, record.TransferRetryCount)
	assert.Equal(t, 1, f.chain.sendCalls)

	// 100 USD at a price of 2 is 50 tokens, 6 decimals
	require.NotNil(t, f.chain.sentUnits)
	assert.Equal(t, big.NewInt(50_000_000).String(), f.chain.sentUnits.String())
}

func TestHandleTransferToken_UnconfirmedPaymentRefuses(t *testing.T) {
	record := pendingRecord("cs_test_unpaid")
	f := newFixture(record)

	err := f.worker.HandleTransferToken(context.Background(), transferPayloadBytes(record))
	require.NoError(t, err)

	assert.Equal(t, model.TransferStatusNotSent, record.StatusTransfer)
	assert.Equal(t, 0, f.chain.sendCalls)
}

func TestHandleTransferToken_AlreadySentIsNoop(t *testing.T) {
	record := paidRecord("cs_test_sent")
	record.StatusTransfer = model.TransferStatusSent
	record.TokenSendTxnHash = "0xearlier"
	f := newFixture(record)

	err := f.worker.HandleTransferToken(context.Background(), transferPayloadBytes(record))
	require.NoError(t, err)

	assert.Equal(t, 0, f.chain.sendCalls)
	assert.Equal(t, "0xearlier", record.TokenSendTxnHash)
}

func TestHandleTransferToken_TransientFailuresThenSuccess(t *testing.T) {
	record := paidRecord("cs_test_retry")
	f := newFixture(record)
	f.chain.sendErr = errors.New("rpc timeout")

	payload := transferPayloadBytes(record)
	ctx := context.Background()

	require.Error(t, f.worker.HandleTransferToken(ctx, payload))
	assert.Equal(t, model.TransferStatusFailed, record.StatusTransfer)
	assert.Equal(t, 1, record.TransferRetryCount)
	assert.NotNil(t, record.LastTriedAt)

	require.Error(t, f.worker.HandleTransferToken(ctx, payload))
	assert.Equal(t, 2, record.TransferRetryCount)

	// both failed attempts scheduled a delayed retry under a fresh key
	require.Len(t, f.queue.enqueues, 2)
	assert.Equal(t, transferRetryKey(record.SessionID, 1), f.queue.enqueues[0].opts.IdempotencyKey)
	assert.Equal(t, transferRetryKey(record.SessionID, 2), f.queue.enqueues[1].opts.IdempotencyKey)
	assert.Equal(t, 60*time.Second, f.queue.enqueues[0].opts.Delay)

	f.chain.sendErr = nil
	require.NoError(t, f.worker.HandleTransferToken(ctx, payload))

	assert.Equal(t, model.TransferStatusSent, record.StatusTransfer)
	assert.Equal(t, 2, record.TransferRetryCount)
	assert.Equal(t, "0xdeadbeef", record.TokenSendTxnHash)
}

func TestHandleTransferToken_RetryBudgetExhausted(t *testing.T) {
	record := paidRecord("cs_test_budget")
	f := newFixture(record)
	f.chain.sendErr = errors.New("rpc timeout")

	payload := transferPayloadBytes(record)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, f.worker.HandleTransferToken(ctx, payload))
	}

	assert.Equal(t, model.TransferStatusFailed, record.StatusTransfer)
	assert.Equal(t, 3, record.TransferRetryCount)

	// the third failure hits the budget and schedules nothing further
	assert.Len(t, f.queue.enqueues, 2)
}

func TestHandleTransferToken_InsufficientGasAbortsBeforeBroadcast(t *testing.T) {
	record := paidRecord("cs_test_gas")
	f := newFixture(record)
	f.chain.balance = big.NewInt(0)

	err := f.worker.HandleTransferToken(context.Background(), transferPayloadBytes(record))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientGas))

	assert.Equal(t, 0, f.chain.sendCalls)
	assert.Equal(t, model.TransferStatusFailed, record.StatusTransfer)
	assert.Equal(t, 1, record.TransferRetryCount)
}

func TestHandleTransferToken_RevertedReceiptClearsHash(t *testing.T) {
	record := paidRecord("cs_test_revert")
	f := newFixture(record)
	f.chain.receiptStatus = 0

	err := f.worker.HandleTransferToken(context.Background(), transferPayloadBytes(record))
	require.Error(t, err)

	// the stale hash is cleared so the retry broadcasts a fresh transaction
	assert.Equal(t, "", record.TokenSendTxnHash)
	assert.Equal(t, model.TransferStatusFailed, record.StatusTransfer)
	assert.Equal(t, 1, record.TransferRetryCount)
	require.Len(t, f.queue.enqueues, 1)
	assert.Equal(t, transferRetryKey(record.SessionID, 1), f.queue.enqueues[0].opts.IdempotencyKey)
}

func TestHandleTransferToken_ResumesBroadcastHashWithoutResending(t *testing.T) {
	record := paidRecord("cs_test_resume")
	record.StatusTransfer = model.TransferStatusProcessing
	record.TokenSendTxnHash = "0xbroadcast"
	f := newFixture(record)

	err := f.worker.HandleTransferToken(context.Background(), transferPayloadBytes(record))
	require.NoError(t, err)

	assert.Equal(t, 0, f.chain.sendCalls)
	assert.Equal(t, 1, f.chain.waitCalls)
	assert.Equal(t, model.TransferStatusSent, record.StatusTransfer)
	assert.Equal(t, "0xbroadcast", record.TokenSendTxnHash)
}

func TestHandleTransferToken_UnsupportedChainFailsPermanently(t *testing.T) {
	record := paidRecord("cs_test_chain")
	f := newFixture(record)

	payload, err := json.Marshal(TransferTokenPayload{
		SessionID:       record.SessionID,
		ChainID:         999,
		ReceiverAddress: record.ReceiverAddress,
		AmountFiat:      record.AmountFiat.String(),
		FiatCurrency:    record.FiatCurrency,
		TokenSymbol:     record.TokenSymbol,
	})
	require.NoError(t, err)

	require.Error(t, f.worker.HandleTransferToken(context.Background(), payload))

	// marked dead with the budget consumed so sweeps never re-admit it
	assert.Equal(t, model.TransferStatusFailed, record.StatusTransfer)
	assert.Equal(t, 3, record.TransferRetryCount)
	assert.Empty(t, f.queue.enqueues)
	assert.Equal(t, 0, f.chain.sendCalls)
}
