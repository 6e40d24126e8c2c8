package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/model"
	settlementService "github.com/dhblabs/settlement-backend/internal/settlement"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
	"github.com/dhblabs/settlement-backend/internal/view"
)

// SignatureHeader carries the gateway's HMAC signature on every callback.
const SignatureHeader = "X-Gateway-Signature"

const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

// GatewayEvent is the callback envelope posted by the payment gateway.
type GatewayEvent struct {
	Type string `json:"type"`
	Data struct {
		SessionID string `json:"session_id"`
	} `json:"data"`
}

type handler struct {
	gateway gateway.IGateway
	service settlementService.ISettlement
	logger  *logger.Logger
}

func New(gw gateway.IGateway, service settlementService.ISettlement, logger *logger.Logger) IHandler {
	return &handler{
		gateway: gw,
		service: service,
		logger:  logger,
	}
}

// HandleGatewayEvent godoc
// @Summary Payment gateway callback
// @Description Receives signed payment events and advances the matching settlement
// @id handleGatewayEvent
// @Tags Webhook
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "HMAC signature header"
// @Success 200 {object} view.MessageResponse
// @Failure 400 {object} view.ErrorResponse
// @Router /webhook/gateway [post]
func (h *handler) HandleGatewayEvent(c *gin.Context) {
	// the signature covers the raw bytes, so read before any decoding
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, nil, "unreadable body"))
		return
	}

	if err := h.gateway.VerifyWebhookSignature(rawBody, c.GetHeader(SignatureHeader)); err != nil {
		h.logger.Error("[HandleGatewayEvent][VerifyWebhookSignature]", map[string]string{
			"error": err.Error(),
		})
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, nil, "signature verification failed"))
		return
	}

	var event GatewayEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, nil, "malformed event"))
		return
	}
	if event.Data.SessionID == "" {
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, nil, nil, "missing session_id"))
		return
	}

	switch event.Type {
	case EventCheckoutCompleted:
		err = h.service.TransitionPaymentStatus(c.Request.Context(), event.Data.SessionID, model.PaymentStatusSucceeded)
	case EventCheckoutExpired:
		err = h.service.TransitionPaymentStatus(c.Request.Context(), event.Data.SessionID, model.PaymentStatusExpired)
	default:
		// unknown event types are acknowledged so the gateway stops retrying
		c.JSON(http.StatusOK, view.CreateResponse[any]("ignored", nil, nil, ""))
		return
	}

	if err != nil {
		// an event for a record another path already advanced is not a failure
		if errors.Is(err, settlementService.ErrConflict) || errors.Is(err, settlementService.ErrInvalidTransition) {
			c.JSON(http.StatusOK, view.CreateResponse[any]("already processed", nil, nil, ""))
			return
		}
		if errors.Is(err, settlementService.ErrSessionNotFound) {
			h.logger.Error("[HandleGatewayEvent] event for unknown session", map[string]string{
				"sessionId": event.Data.SessionID,
				"type":      event.Type,
			})
			c.JSON(http.StatusOK, view.CreateResponse[any]("ignored", nil, nil, ""))
			return
		}
		h.logger.Error("[HandleGatewayEvent][TransitionPaymentStatus]", map[string]string{
			"sessionId": event.Data.SessionID,
			"type":      event.Type,
			"error":     err.Error(),
		})
		c.JSON(http.StatusInternalServerError, view.CreateResponse[any](nil, err, nil, "failed to process event"))
		return
	}

	h.logger.Info("[HandleGatewayEvent] event processed", map[string]string{
		"sessionId": event.Data.SessionID,
		"type":      event.Type,
	})
	c.JSON(http.StatusOK, view.CreateResponse[any]("ok", nil, nil, ""))
}
