package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/model"
	"github.com/dhblabs/settlement-backend/internal/queue"
	"github.com/dhblabs/settlement-backend/internal/settlement"
)

// HandleVerifyPayment checks the live gateway status for one session.
// Verify jobs are read-mostly and idempotent, so many may run in parallel.
func (w *Worker) HandleVerifyPayment(ctx context.Context, payload []byte) error {
	var p VerifyPaymentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	record, err := w.service.GetBySessionID(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, settlement.ErrSessionNotFound) {
			w.logger.Error("[HandleVerifyPayment] unknown session", map[string]string{
				"sessionId": p.SessionID,
			})
			return nil
		}
		return err
	}

	// another path (webhook, earlier verify) already resolved this session
	if record.StatusPayment.Paid() || record.StatusPayment.IsTerminal() {
		return nil
	}

	status, err := w.gateway.GetSessionStatus(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayUnavailable) {
			// transient: leave state untouched, the next pending-poll retries
			return err
		}
		return err
	}

	if status == gateway.SessionStatusPaid {
		if err := w.service.TransitionPaymentStatus(ctx, p.SessionID, model.PaymentStatusSucceeded); err != nil {
			if errors.Is(err, settlement.ErrConflict) || errors.Is(err, settlement.ErrInvalidTransition) {
				// a concurrent writer already advanced the record
				return nil
			}
			return err
		}

		w.logger.Info("[HandleVerifyPayment] payment confirmed", map[string]string{
			"sessionId": p.SessionID,
		})

		return w.enqueueTransfer(ctx, record)
	}

	// not paid yet: give up only after the payment window lapses
	timeout := time.Duration(w.appConfig.Settlement.PaymentTimeoutMinutes) * time.Minute
	if time.Since(record.CreatedAt) > timeout {
		err := w.service.TransitionPaymentStatus(ctx, p.SessionID, model.PaymentStatusFailed)
		if err != nil && !errors.Is(err, settlement.ErrConflict) && !errors.Is(err, settlement.ErrInvalidTransition) {
			return err
		}
		w.logger.Info("[HandleVerifyPayment] payment timed out", map[string]string{
			"sessionId": p.SessionID,
		})
	}

	return nil
}

// enqueueTransfer admits the transfer job for a confirmed payment. A
// duplicate admission (e.g. two verify jobs racing) is rejected by the
// idempotency key and is not an error.
func (w *Worker) enqueueTransfer(ctx context.Context, record *model.SettlementTransaction) error {
	err := w.queue.Enqueue(ctx, JobTransferToken, TransferTokenPayload{
		SessionID:       record.SessionID,
		ChainID:         record.ChainID,
		ReceiverAddress: record.ReceiverAddress,
		AmountFiat:      record.AmountFiat.String(),
		FiatCurrency:    record.FiatCurrency,
		TokenSymbol:     record.TokenSymbol,
	}, queue.Options{
		IdempotencyKey: TransferJobKey(record.SessionID),
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			return nil
		}
		return err
	}
	return nil
}
