package middleware

import (
	apperrors "github.com/exagonbr/Portal-sub023/pkg/errors"
	"github.com/exagonbr/Portal-sub023/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery creates a panic recovery middleware
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("request_id", c.GetString(RequestIDKey)),
				)

				response.Abort(c, apperrors.ErrInternal)
			}
		}()

		c.Next()
	}
}
