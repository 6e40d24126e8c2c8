package settlement

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/evmrpc"
	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/model"
	"github.com/dhblabs/settlement-backend/internal/oracle"
	"github.com/dhblabs/settlement-backend/internal/store"
	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

type Service struct {
	db        *gorm.DB
	store     *store.Store
	oracle    oracle.IOracle
	gateway   gateway.IGateway
	registry  *evmrpc.Registry
	appConfig *config.AppConfig
	logger    *logger.Logger
}

func New(
	db *gorm.DB,
	s *store.Store,
	oracle oracle.IOracle,
	gateway gateway.IGateway,
	registry *evmrpc.Registry,
	appConfig *config.AppConfig,
	logger *logger.Logger,
) ISettlement {
	return &Service{
		db:        db,
		store:     s,
		oracle:    oracle,
		gateway:   gateway,
		registry:  registry,
		appConfig: appConfig,
		logger:    logger,
	}
}

func (s *Service) CreateSettlement(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	chain, err := s.registry.Get(req.ChainID)
	if err != nil {
		return nil, err
	}

	// A quote must exist before we take the payment; otherwise the transfer
	// leg could never be priced.
	if _, err := s.oracle.GetPrice(ctx, chain.TokenSymbol(), req.Currency); err != nil {
		s.logger.Error("[CreateSettlement][GetPrice]", map[string]string{
			"token": chain.TokenSymbol(),
			"error": err.Error(),
		})
		return nil, err
	}

	placeholderID := "tmp-" + uuid.NewString()
	expiresAt := time.Now().Add(time.Duration(s.appConfig.Settlement.SessionTTLMinutes) * time.Minute).Unix()

	record := &model.SettlementTransaction{
		SessionID:       placeholderID,
		AmountFiat:      req.Amount,
		FiatCurrency:    req.Currency,
		TokenSymbol:     chain.TokenSymbol(),
		ChainID:         req.ChainID,
		ReceiverAddress: req.ReceiverAddress,
		StatusPayment:   model.PaymentStatusInit,
		StatusTransfer:  model.TransferStatusNotSent,
		ExpiresAt:       expiresAt,
	}
	if _, err := s.store.SettlementTransaction.Create(s.db, record); err != nil {
		s.logger.Error("[CreateSettlement][Create]", map[string]string{
			"error": err.Error(),
		})
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		Amount:     req.Amount,
		Currency:   req.Currency,
		SuccessURL: s.appConfig.Gateway.SuccessURL,
		CancelURL:  s.appConfig.Gateway.CancelURL,
		Metadata: map[string]string{
			"chain_id": strconv.FormatInt(req.ChainID, 10),
			"receiver": req.ReceiverAddress,
			"token":    chain.TokenSymbol(),
		},
	})
	if err != nil {
		// The placeholder row stays in init; the expiry sweep collects it.
		s.logger.Error("[CreateSettlement][CreateCheckoutSession]", map[string]string{
			"placeholder": placeholderID,
			"error":       err.Error(),
		})
		return nil, err
	}

	if session.ExpiresAt > 0 {
		expiresAt = session.ExpiresAt
	}

	affected, err := s.store.SettlementTransaction.AdoptGatewaySession(s.db, placeholderID, session.SessionID, expiresAt)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, errors.Wrapf(ErrConflict, "placeholder %s already adopted", placeholderID)
	}

	s.logger.Info("[CreateSettlement] session created", map[string]string{
		"sessionId": session.SessionID,
		"chainId":   strconv.FormatInt(req.ChainID, 10),
		"amount":    req.Amount.String(),
	})

	return &CreateResult{
		SessionID:   session.SessionID,
		CheckoutURL: session.URL,
	}, nil
}

func (s *Service) GetBySessionID(ctx context.Context, sessionID string) (*model.SettlementTransaction, error) {
	record, err := s.store.SettlementTransaction.GetBySessionID(s.db, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrSessionNotFound, "session %s", sessionID)
		}
		return nil, err
	}
	return record, nil
}

func (s *Service) SyncFeeDetails(ctx context.Context, sessionID string) error {
	record, err := s.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}

	// already synced once; never overwrite
	if record.Fee != nil && record.Net != nil {
		return nil
	}

	breakdown, err := s.gateway.GetChargeBreakdown(ctx, sessionID)
	if err != nil {
		return err
	}

	_, err = s.store.SettlementTransaction.SetFeeDetailsOnce(
		s.db,
		sessionID,
		breakdown.Fee.String(),
		breakdown.Net.String(),
		breakdown.ExchangeRate.String(),
	)
	return err
}

func (s *Service) TransitionPaymentStatus(ctx context.Context, sessionID string, to model.PaymentStatus) error {
	record, err := s.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}

	if !record.StatusPayment.CanTransitionTo(to) {
		return errors.Wrapf(ErrInvalidTransition, "payment %s -> %s", record.StatusPayment, to)
	}

	extra := map[string]interface{}{}
	if to == model.PaymentStatusFailed {
		// a payment that failed must never be transferred
		extra["status_transfer"] = model.TransferStatusCancelled
	}

	affected, err := s.store.SettlementTransaction.TransitionPayment(
		s.db, sessionID, []model.PaymentStatus{record.StatusPayment}, to, extra)
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Wrapf(ErrConflict, "payment transition %s -> %s", record.StatusPayment, to)
	}

	return nil
}

func (s *Service) TransitionTransferStatus(ctx context.Context, sessionID string, patch TransferPatch) error {
	record, err := s.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}

	if record.StatusTransfer == model.TransferStatusSent {
		return errors.Wrap(ErrInvalidTransition, "transfer already sent")
	}
	if !record.StatusTransfer.CanTransitionTo(patch.Status) {
		return errors.Wrapf(ErrInvalidTransition, "transfer %s -> %s", record.StatusTransfer, patch.Status)
	}

	update := map[string]interface{}{
		"status_transfer": patch.Status,
	}
	if patch.LastTriedAt != nil {
		update["last_tried_at"] = *patch.LastTriedAt
	}
	if patch.TokenSendTxnHash != nil {
		update["token_send_txn_hash"] = *patch.TokenSendTxnHash
	}

	affected, err := s.store.SettlementTransaction.TransitionTransfer(
		s.db, sessionID, []model.TransferStatus{record.StatusTransfer}, update)
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Wrapf(ErrConflict, "transfer transition %s -> %s", record.StatusTransfer, patch.Status)
	}

	return nil
}
