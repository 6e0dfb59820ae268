package ports

import (
	"github.com/gin-gonic/gin"
)

type MeetingHTTPHandler interface {
	Join(c *gin.Context)
	Leave(c *gin.Context)
	Status(c *gin.Context)
	PreviewStart(c *gin.Context)
	PreviewStop(c *gin.Context)
	TransformStart(c *gin.Context)
	TransformStop(c *gin.Context)
	Surfaces(c *gin.Context)
}
