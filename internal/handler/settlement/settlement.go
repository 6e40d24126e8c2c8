package settlement

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/dhblabs/settlement-backend/internal/evmrpc"
	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/oracle"
	settlementService "github.com/dhblabs/settlement-backend/internal/settlement"
	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
	"github.com/dhblabs/settlement-backend/internal/view"
)

type CreateSettlementRequest struct {
	ChainID         int64  `json:"chain_id" binding:"required" validate:"required,gt=0"`
	ReceiverAddress string `json:"receiver_address" binding:"required" validate:"required,eth_addr"`
	Amount          string `json:"amount" binding:"required" validate:"required"`
	Currency        string `json:"currency" binding:"required" validate:"required,len=3"`
}

type handler struct {
	service   settlementService.ISettlement
	logger    *logger.Logger
	appConfig *config.AppConfig
}

func New(service settlementService.ISettlement, logger *logger.Logger, appConfig *config.AppConfig) IHandler {
	return &handler{
		service:   service,
		logger:    logger,
		appConfig: appConfig,
	}
}

// Create godoc
// @Summary Create a settlement
// @Description Opens a hosted checkout session and records the token transfer intent
// @id createSettlement
// @Tags Settlement
// @Accept json
// @Produce json
// @Param request body CreateSettlementRequest true "Settlement request parameters"
// @Success 200 {object} view.Response[settlement.CreateResult]
// @Failure 400 {object} view.ErrorResponse
// @Failure 503 {object} view.ErrorResponse
// @Router /settlements [post]
func (h *handler) Create(c *gin.Context) {
	var req CreateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("[Create][ShouldBindJSON]", map[string]string{
			"error": err.Error(),
		})
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, req, "invalid request"))
		return
	}

	// validate req
	if err := validator.New().Struct(req); err != nil {
		h.logger.Error("[Create][Validator]", map[string]string{
			"error": err.Error(),
		})
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, req, "invalid request"))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, req, "amount must be a positive decimal"))
		return
	}

	result, err := h.service.CreateSettlement(c.Request.Context(), settlementService.CreateRequest{
		ChainID:         req.ChainID,
		ReceiverAddress: req.ReceiverAddress,
		Amount:          amount,
		Currency:        req.Currency,
	})
	if err != nil {
		h.logger.Error("[Create][CreateSettlement]", map[string]string{
			"error": err.Error(),
		})
		switch {
		case errors.Is(err, evmrpc.ErrUnsupportedChain):
			c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, err, req, "unsupported chain"))
		case errors.Is(err, oracle.ErrPriceUnavailable):
			c.JSON(http.StatusServiceUnavailable, view.CreateResponse[any](nil, err, nil, "token price unavailable"))
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			c.JSON(http.StatusServiceUnavailable, view.CreateResponse[any](nil, err, nil, "payment gateway unavailable"))
		default:
			c.JSON(http.StatusInternalServerError, view.CreateResponse[any](nil, err, nil, "failed to create settlement"))
		}
		return
	}

	c.JSON(http.StatusOK, view.CreateResponse(result, nil, nil, ""))
}

// Get godoc
// @Summary Get a settlement
// @Description Returns the settlement record for a checkout session id
// @id getSettlement
// @Tags Settlement
// @Accept json
// @Produce json
// @Param session_id path string true "Checkout session id"
// @Success 200 {object} view.Response[model.SettlementTransaction]
// @Failure 404 {object} view.ErrorResponse
// @Router /settlements/{session_id} [get]
func (h *handler) Get(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, view.CreateResponse[any](nil, nil, nil, "session_id is required"))
		return
	}

	record, err := h.service.GetBySessionID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, settlementService.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, view.CreateResponse[any](nil, err, nil, "settlement not found"))
			return
		}
		h.logger.Error("[Get][GetBySessionID]", map[string]string{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		c.JSON(http.StatusInternalServerError, view.CreateResponse[any](nil, err, nil, "failed to fetch settlement"))
		return
	}

	c.JSON(http.StatusOK, view.CreateResponse(record, nil, nil, ""))
}
