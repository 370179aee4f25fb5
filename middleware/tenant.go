package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"infra-rag-platform/utils"
)

const (
	TenantHeader   = "X-Tenant-ID"
	AdminKeyHeader = "X-Admin-Key"
)

// TenantMiddleware copies the opaque tenant identifier into the request context.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tenant := strings.TrimSpace(c.GetHeader(TenantHeader)); tenant != "" {
			c.Set("tenant_id", tenant)
		}
		c.Next()
	}
}

// GetTenantID returns the tenant of the request, or "" for global scope.
func GetTenantID(c *gin.Context) string {
	return c.GetString("tenant_id")
}

// AdminGuard rejects requests without the configured admin key. An empty key disables the check.
func AdminGuard(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.Next()
			return
		}
		given := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(adminKey)) != 1 {
			utils.RespondWithError(c, http.StatusForbidden, "forbidden", "Admin key required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
