package webhook

import "github.com/gin-gonic/gin"

type IHandler interface {
	HandleGatewayEvent(c *gin.Context)
}
