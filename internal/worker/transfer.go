package worker

import (
	"context"
	"encoding/json"
	"math/big"
	"strconv"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/dhblabs/settlement-backend/internal/evmrpc"
	"github.com/dhblabs/settlement-backend/internal/model"
	"github.com/dhblabs/settlement-backend/internal/queue"
	"github.com/dhblabs/settlement-backend/internal/settlement"
)

// HandleTransferToken executes one on-chain transfer attempt for a paid
// session. The claim in step one is a CAS out of not_sent/failed, so a
// concurrent job for the same session aborts instead of double-sending.
func (w *Worker) HandleTransferToken(ctx context.Context, payload []byte) error {
	var p TransferTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	record, err := w.service.GetBySessionID(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, settlement.ErrSessionNotFound) {
			w.logger.Error("[HandleTransferToken] unknown session", map[string]string{
				"sessionId": p.SessionID,
			})
			return nil
		}
		return err
	}

	if record.StatusTransfer == model.TransferStatusSent {
		return nil
	}
	if !record.StatusPayment.Paid() {
		w.logger.Error("[HandleTransferToken] payment not confirmed, refusing transfer", map[string]string{
			"sessionId":     p.SessionID,
			"statusPayment": string(record.StatusPayment),
		})
		return nil
	}

	chain, err := w.registry.Get(p.ChainID)
	if err != nil {
		if errors.Is(err, evmrpc.ErrUnsupportedChain) {
			// configuration error: fatal for this job, never retried
			w.failPermanently(p.SessionID, err)
			return err
		}
		return err
	}

	amountFiat, err := decimal.NewFromString(p.AmountFiat)
	if err != nil {
		w.failPermanently(p.SessionID, err)
		return err
	}

	// claim the record; losing the race means another attempt owns it. The
	// from-set comes from the transition table so the claim cannot bypass it.
	now := time.Now()
	affected, err := w.store.SettlementTransaction.TransitionTransfer(
		w.db, p.SessionID,
		model.TransferSourceStatuses(model.TransferStatusProcessing),
		map[string]interface{}{
			"status_transfer": model.TransferStatusProcessing,
			"last_tried_at":   now,
		})
	if err != nil {
		return err
	}
	if affected == 0 && record.StatusTransfer != model.TransferStatusProcessing {
		return nil
	}

	txHash, err := w.executeTransfer(ctx, chain, record, p, amountFiat)
	if err != nil {
		return w.failAttempt(ctx, p, record, err)
	}

	hash := txHash
	err = w.service.TransitionTransferStatus(ctx, p.SessionID, settlement.TransferPatch{
		Status:           model.TransferStatusSent,
		TokenSendTxnHash: &hash,
	})
	if err != nil {
		return err
	}

	w.logger.Info("[HandleTransferToken] transfer sent", map[string]string{
		"sessionId": p.SessionID,
		"chainId":   strconv.FormatInt(p.ChainID, 10),
		"txHash":    txHash,
	})
	return nil
}

// executeTransfer runs the on-chain leg and returns the confirmed tx hash.
// If a broadcast hash is already persisted from an earlier attempt, it
// resumes by polling that hash instead of re-broadcasting.
func (w *Worker) executeTransfer(
	ctx context.Context,
	chain evmrpc.IEvmRPC,
	record *model.SettlementTransaction,
	p TransferTokenPayload,
	amountFiat decimal.Decimal,
) (string, error) {
	if record.TokenSendTxnHash != "" {
		return w.awaitReceipt(ctx, chain, p.SessionID, record.TokenSendTxnHash)
	}

	quote, err := w.oracle.GetPrice(ctx, p.TokenSymbol, p.FiatCurrency)
	if err != nil {
		return "", err
	}

	amountTokens := amountFiat.Div(quote.Price)
	units, ok := model.FromDecimal(amountTokens, chain.TokenDecimals()).BigInt()
	if !ok {
		return "", errors.Errorf("unrepresentable token amount %s", amountTokens)
	}

	gasLimit, gasPrice, err := chain.EstimateTransferGas(ctx, p.ReceiverAddress, units)
	if err != nil {
		return "", err
	}

	balance, err := chain.NativeBalanceOf(ctx, chain.SignerAddress())
	if err != nil {
		return "", err
	}
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	if balance.Cmp(gasCost) < 0 {
		// never broadcast a transaction that cannot complete
		return "", errors.Wrapf(ErrInsufficientGas,
			"chain %d: balance %s < gas cost %s", p.ChainID, balance, gasCost)
	}

	txHash, err := chain.SendTransfer(ctx, p.ReceiverAddress, units)
	if err != nil {
		return "", err
	}

	// persist the broadcast hash before waiting on the receipt so a restart
	// resumes by polling instead of re-broadcasting
	if err := w.store.SettlementTransaction.SetTokenSendTxnHash(w.db, p.SessionID, txHash); err != nil {
		w.logger.Error("[executeTransfer][SetTokenSendTxnHash]", map[string]string{
			"sessionId": p.SessionID,
			"txHash":    txHash,
			"error":     err.Error(),
		})
	}

	return w.awaitReceipt(ctx, chain, p.SessionID, txHash)
}

func (w *Worker) awaitReceipt(ctx context.Context, chain evmrpc.IEvmRPC, sessionID, txHash string) (string, error) {
	receipt, err := chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		return "", err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		// reverted on chain: clear the stale hash so the next attempt
		// broadcasts fresh instead of resuming a dead transaction
		if clearErr := w.store.SettlementTransaction.SetTokenSendTxnHash(w.db, sessionID, ""); clearErr != nil {
			w.logger.Error("[awaitReceipt][SetTokenSendTxnHash]", map[string]string{
				"sessionId": sessionID,
				"error":     clearErr.Error(),
			})
		}
		return "", errors.Errorf("transaction %s reverted on chain", txHash)
	}
	return txHash, nil
}

// failAttempt books one failed transfer attempt and schedules a delayed
// retry while the budget allows.
func (w *Worker) failAttempt(ctx context.Context, p TransferTokenPayload, record *model.SettlementTransaction, cause error) error {
	now := time.Now()
	if err := w.store.SettlementTransaction.IncrementTransferRetry(w.db, p.SessionID, now); err != nil {
		w.logger.Error("[failAttempt][IncrementTransferRetry]", map[string]string{
			"sessionId": p.SessionID,
			"error":     err.Error(),
		})
	}

	if _, err := w.store.SettlementTransaction.TransitionTransfer(
		w.db, p.SessionID,
		[]model.TransferStatus{model.TransferStatusProcessing},
		map[string]interface{}{
			"status_transfer": model.TransferStatusFailed,
		}); err != nil {
		w.logger.Error("[failAttempt][TransitionTransfer]", map[string]string{
			"sessionId": p.SessionID,
			"error":     err.Error(),
		})
	}

	attempt := record.TransferRetryCount + 1
	maxRetries := w.appConfig.Settlement.MaxTransferRetries

	if attempt >= maxRetries {
		w.logger.Error("[failAttempt] retry budget exhausted, operator intervention required", map[string]string{
			"sessionId": p.SessionID,
			"attempts":  strconv.Itoa(attempt),
			"error":     cause.Error(),
		})
		return cause
	}

	delay := time.Duration(w.appConfig.Settlement.TransferRetrySeconds) * time.Second
	err := w.queue.Enqueue(ctx, JobTransferToken, p, queue.Options{
		IdempotencyKey: transferRetryKey(p.SessionID, attempt),
		Delay:          delay,
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
		// the retry-reset sweep will still re-admit this session
		w.logger.Error("[failAttempt][Enqueue]", map[string]string{
			"sessionId": p.SessionID,
			"error":     err.Error(),
		})
	}

	w.logger.Info("[failAttempt] transfer attempt failed, retry scheduled", map[string]string{
		"sessionId": p.SessionID,
		"attempt":   strconv.Itoa(attempt),
		"error":     cause.Error(),
	})
	return cause
}

// failPermanently marks a transfer dead without consuming the retry budget
// machinery; used for configuration errors that retrying cannot fix.
func (w *Worker) failPermanently(sessionID string, cause error) {
	if _, err := w.store.SettlementTransaction.TransitionTransfer(
		w.db, sessionID,
		[]model.TransferStatus{model.TransferStatusNotSent, model.TransferStatusProcessing, model.TransferStatusFailed},
		map[string]interface{}{
			"status_transfer":      model.TransferStatusFailed,
			"transfer_retry_count": w.appConfig.Settlement.MaxTransferRetries,
		}); err != nil {
		w.logger.Error("[failPermanently][TransitionTransfer]", map[string]string{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}

	w.logger.Error("[failPermanently] transfer unrecoverable", map[string]string{
		"sessionId": sessionID,
		"error":     cause.Error(),
	})
}
