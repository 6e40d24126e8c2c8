package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/handler/health"
	"github.com/dhblabs/settlement-backend/internal/handler/metrics"
	settlementHandler "github.com/dhblabs/settlement-backend/internal/handler/settlement"
	webhookHandler "github.com/dhblabs/settlement-backend/internal/handler/webhook"
	settlementService "github.com/dhblabs/settlement-backend/internal/settlement"
	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

type Handler struct {
	SettlementHandler settlementHandler.IHandler
	WebhookHandler    webhookHandler.IHandler
	HealthHandler     health.IHealthHandler
	MetricsHandler    *metrics.MetricsHandler
}

func New(appConfig *config.AppConfig, logger *logger.Logger,
	service settlementService.ISettlement,
	gw gateway.IGateway,
	db *gorm.DB,
	metricsRegistry *prometheus.Registry) *Handler {
	return &Handler{
		SettlementHandler: settlementHandler.New(service, logger, appConfig),
		WebhookHandler:    webhookHandler.New(gw, service, logger),
		HealthHandler:     health.New(appConfig, logger, db),
		MetricsHandler:    metrics.NewMetricsHandler(metricsRegistry),
	}
}
