package health

import "github.com/gin-gonic/gin"

type IHealthHandler interface {
	Basic(c *gin.Context)
	Database(c *gin.Context)
}
