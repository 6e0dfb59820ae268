package middleware

import (
	"strings"

	"meetjoin/internal/core/services"
	apperrors "meetjoin/pkg/errors"
	"meetjoin/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// OperatorKey is the gin context key holding the authenticated operator.
const OperatorKey = "operator"

// AuthMiddleware requires a valid bearer token. Failures go through the
// error handler as UNAUTHORIZED.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			_ = c.Error(apperrors.NewUnauthorizedError(err.Error()))
			c.Abort()
			return
		}

		tracing.AddSpanAttributes(c.Request.Context(), attribute.String("operator", claims.Operator))
		c.Set(OperatorKey, claims.Operator)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.NewUnauthorizedError("authorization header required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
		return "", apperrors.NewUnauthorizedError("invalid authorization header format")
	}
	return token, nil
}
