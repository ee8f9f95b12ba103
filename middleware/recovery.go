package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/cuentasxpagar/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 in the API's error shape
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			logger.Error(c.Request.Context(), "http.panic",
				"panic", fmt.Sprint(rec),
				"route", c.FullPath(),
				"method", c.Request.Method,
				"stack", string(debug.Stack()),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "Unexpected server error",
				"kind":       "internal",
				"request_id": GetRequestID(c),
			})
		}()

		c.Next()
	}
}
