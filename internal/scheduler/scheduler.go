package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/model"
	"github.com/dhblabs/settlement-backend/internal/monitoring"
	"github.com/dhblabs/settlement-backend/internal/queue"
	"github.com/dhblabs/settlement-backend/internal/settlement"
	"github.com/dhblabs/settlement-backend/internal/store"
	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
	"github.com/dhblabs/settlement-backend/internal/worker"
)

// Scheduler runs the reconciliation sweeps. Every sweep re-derives its work
// from the database, so a process restart loses nothing: whatever was in
// flight is found again on the next tick.
type Scheduler struct {
	db        *gorm.DB
	store     *store.Store
	service   settlement.ISettlement
	queue     queue.IQueue
	metrics   *monitoring.JobMetrics
	appConfig *config.AppConfig
	logger    *logger.Logger

	cron *cron.Cron

	// Prevent concurrent executions of the same sweep
	expireMutex   sync.Mutex
	verifyMutex   sync.Mutex
	dispatchMutex sync.Mutex
	releaseMutex  sync.Mutex
}

func New(
	db *gorm.DB,
	s *store.Store,
	service settlement.ISettlement,
	q queue.IQueue,
	metrics *monitoring.JobMetrics,
	appConfig *config.AppConfig,
	logger *logger.Logger,
) *Scheduler {
	return &Scheduler{
		db:        db,
		store:     s,
		service:   service,
		queue:     q,
		metrics:   metrics,
		appConfig: appConfig,
		logger:    logger,
	}
}

// Start registers the sweeps and starts the cron loop.
func (s *Scheduler) Start() {
	c := cron.New()

	c.AddFunc("@every 10m", func() { s.run("expire_stale_sessions", s.ExpireStaleSessions) })
	c.AddFunc("@every 1m", func() { s.run("verify_pending_payments", s.VerifyPendingPayments) })
	c.AddFunc("@every 5s", func() { s.run("dispatch_next_transfer", s.DispatchNextTransfer) })
	c.AddFunc("@every 5m", func() { s.run("release_stuck_transfers", s.ReleaseStuckTransfers) })

	c.Start()
	s.cron = c

	s.logger.Info("[Scheduler] reconciliation sweeps started")
}

// Stop halts the cron loop and waits for any running sweep to return.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run(name string, task func() error) {
	start := time.Now()
	err := task()
	if s.metrics != nil {
		s.metrics.ObserveJob(name, time.Since(start), err)
	}
}

// ExpireStaleSessions bulk-expires unpaid sessions whose payment window
// lapsed before any transfer was admitted.
func (s *Scheduler) ExpireStaleSessions() error {
	s.expireMutex.Lock()
	defer s.expireMutex.Unlock()

	expired, err := s.store.SettlementTransaction.MarkExpired(s.db, time.Now())
	if err != nil {
		s.logger.Error("[ExpireStaleSessions][MarkExpired]", map[string]string{
			"error": err.Error(),
		})
		return err
	}

	if expired > 0 {
		s.logger.Info("[ExpireStaleSessions] sessions expired", map[string]string{
			"count": strconv.FormatInt(expired, 10),
		})
	}
	return nil
}

// VerifyPendingPayments enqueues a verification job for every unpaid,
// unexpired session. The idempotency key keeps a slow verification from
// being admitted twice.
func (s *Scheduler) VerifyPendingPayments() error {
	s.verifyMutex.Lock()
	defer s.verifyMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	records, err := s.store.SettlementTransaction.FindPendingVerifiable(s.db, time.Now())
	if err != nil {
		s.logger.Error("[VerifyPendingPayments][FindPendingVerifiable]", map[string]string{
			"error": err.Error(),
		})
		return err
	}

	admitted := 0
	for _, record := range records {
		err := s.queue.Enqueue(ctx, worker.JobVerifyPayment, worker.VerifyPaymentPayload{
			SessionID: record.SessionID,
		}, queue.Options{
			IdempotencyKey: worker.VerifyJobKey(record.SessionID),
		})
		if err != nil {
			if errors.Is(err, queue.ErrDuplicateJob) {
				continue
			}
			s.logger.Error("[VerifyPendingPayments][Enqueue]", map[string]string{
				"sessionId": record.SessionID,
				"error":     err.Error(),
			})
			return err
		}
		admitted++
	}

	if admitted > 0 {
		s.logger.Info("[VerifyPendingPayments] verification jobs admitted", map[string]string{
			"pending":  strconv.Itoa(len(records)),
			"admitted": strconv.Itoa(admitted),
		})
	}
	return nil
}

// DispatchNextTransfer admits the transfer for the single oldest paid
// session still awaiting one. Dispatching one row per tick keeps transfers
// ordered and the hot wallet nonce uncontended.
func (s *Scheduler) DispatchNextTransfer() error {
	s.dispatchMutex.Lock()
	defer s.dispatchMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record, err := s.store.SettlementTransaction.FindOldestTransferable(s.db)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		s.logger.Error("[DispatchNextTransfer][FindOldestTransferable]", map[string]string{
			"error": err.Error(),
		})
		return err
	}

	// best effort; the transfer does not depend on the fee figures
	if err := s.service.SyncFeeDetails(ctx, record.SessionID); err != nil {
		s.logger.Error("[DispatchNextTransfer][SyncFeeDetails]", map[string]string{
			"sessionId": record.SessionID,
			"error":     err.Error(),
		})
	}

	err = s.queue.Enqueue(ctx, worker.JobTransferToken, worker.TransferTokenPayload{
		SessionID:       record.SessionID,
		ChainID:         record.ChainID,
		ReceiverAddress: record.ReceiverAddress,
		AmountFiat:      record.AmountFiat.String(),
		FiatCurrency:    record.FiatCurrency,
		TokenSymbol:     record.TokenSymbol,
	}, queue.Options{
		IdempotencyKey: worker.TransferJobKey(record.SessionID),
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
		// leave the row in not_sent so the next tick retries the admission
		s.logger.Error("[DispatchNextTransfer][Enqueue]", map[string]string{
			"sessionId": record.SessionID,
			"error":     err.Error(),
		})
		return err
	}

	// advance past this row so the next tick picks the next oldest; the job
	// itself re-claims via CAS before touching the chain. Stamping
	// last_tried_at here keeps the retry-reset sweep off the row while the
	// admitted job is still queued.
	if _, err := s.store.SettlementTransaction.TransitionTransfer(
		s.db, record.SessionID,
		[]model.TransferStatus{model.TransferStatusNotSent},
		map[string]interface{}{
			"status_transfer": model.TransferStatusProcessing,
			"last_tried_at":   time.Now(),
		}); err != nil {
		s.logger.Error("[DispatchNextTransfer][TransitionTransfer]", map[string]string{
			"sessionId": record.SessionID,
			"error":     err.Error(),
		})
		return err
	}

	s.logger.Info("[DispatchNextTransfer] transfer admitted", map[string]string{
		"sessionId": record.SessionID,
		"chainId":   strconv.FormatInt(record.ChainID, 10),
	})
	return nil
}

// ReleaseStuckTransfers re-opens transfers abandoned mid-flight, typically
// after a crash. Rows that already broadcast a transaction are left for the
// transfer job to resume by hash, and rows tried within the stuck window are
// left alone because their job may still be executing.
func (s *Scheduler) ReleaseStuckTransfers() error {
	s.releaseMutex.Lock()
	defer s.releaseMutex.Unlock()

	staleBefore := time.Now().Add(-time.Duration(s.appConfig.Settlement.TransferStuckMinutes) * time.Minute)
	released, err := s.store.SettlementTransaction.ResetStuckTransfers(s.db, s.appConfig.Settlement.MaxTransferRetries, staleBefore)
	if err != nil {
		s.logger.Error("[ReleaseStuckTransfers][ResetStuckTransfers]", map[string]string{
			"error": err.Error(),
		})
		return err
	}

	if released > 0 {
		s.logger.Info("[ReleaseStuckTransfers] transfers released", map[string]string{
			"count": strconv.FormatInt(released, 10),
		})
	}
	return nil
}
