package middleware

import (
	"net/http"

	"meetjoin/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr := errors.GetAppError(err); appErr != nil {
			status := errors.HTTPStatusOf(err)
			log := logger.Warnw
			if status >= http.StatusInternalServerError {
				log = logger.Errorw
			}
			log("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", status,
				"cause", appErr.Cause,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context,
			)

			body := gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			}
			if len(appErr.Context) > 0 {
				body["details"] = appErr.Context
			}
			if appErr.Cause != nil {
				body["cause"] = appErr.Cause.Error()
			}
			c.JSON(status, body)
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"request_id", c.GetString(RequestIDKey),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		internal := errors.NewInternalError("Internal server error")
		c.JSON(internal.HTTPStatus(), gin.H{
			"error":   string(internal.Code),
			"message": internal.Message,
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
