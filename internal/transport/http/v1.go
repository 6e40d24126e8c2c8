package http

import (
	"github.com/gin-gonic/gin"

	"github.com/dhblabs/settlement-backend/internal/handler"
	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

func loadV1Routes(r *gin.Engine, h *handler.Handler, appConfig *config.AppConfig, logger *logger.Logger) {
	v1 := r.Group("/api/v1")

	settlements := v1.Group("/settlements")
	{
		settlements.POST("", h.SettlementHandler.Create)
		settlements.GET("/:session_id", h.SettlementHandler.Get)
	}

	healthGroup := v1.Group("/health")
	{
		healthGroup.GET("/db", h.HealthHandler.Database)
	}

	// gateway callbacks live outside the versioned API surface
	r.POST("/webhook/gateway", h.WebhookHandler.HandleGatewayEvent)

	r.GET("/metrics", h.MetricsHandler.Handler())

	// health check
	r.GET("/healthz", h.HealthHandler.Basic)
}
