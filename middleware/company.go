package middleware

import (
	"github.com/cuentasxpagar/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// CompanyContext tags the request context with the company named by the
// :id route parameter so every log line of the request carries it
func CompanyContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("id"); id != "" {
			c.Request = c.Request.WithContext(logger.WithCompany(c.Request.Context(), id))
		}
		c.Next()
	}
}
