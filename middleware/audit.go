package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// AuditMiddleware writes one structured access record per request. Mutations log at info,
// reads at debug, failures at warn.
func AuditMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		action := mapHTTPMethodToAction(c.Request.Method)
		resource, resourceID := extractResourceFromPath(c.Request.URL.Path)

		attrs := []any{
			"request_id", GetRequestID(c),
			"action", action,
			"resource", resource,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if resourceID != "" {
			attrs = append(attrs, "resource_id", resourceID)
		}
		if tenant := GetTenantID(c); tenant != "" {
			attrs = append(attrs, "tenant_id", tenant)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}

		switch {
		case status >= 500:
			logger.Error("request failed", attrs...)
		case status >= 400:
			logger.Warn("request rejected", attrs...)
		case action == "READ":
			logger.Debug("request served", attrs...)
		default:
			logger.Info("request served", attrs...)
		}
	}
}

// mapHTTPMethodToAction maps HTTP methods to audit actions
func mapHTTPMethodToAction(method string) string {
	switch method {
	case "GET", "HEAD":
		return "READ"
	case "POST":
		return "CREATE"
	case "PUT", "PATCH":
		return "UPDATE"
	case "DELETE":
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// extractResourceFromPath extracts resource type and ID from URL path
func extractResourceFromPath(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 0 && parts[0] == "api" {
		parts = parts[1:]
	}
	if len(parts) == 0 || parts[0] == "" {
		return "unknown", ""
	}
	switch parts[0] {
	case "documents", "roles", "assignments":
		if len(parts) > 1 && parts[1] != "stats" {
			return strings.TrimSuffix(parts[0], "s"), parts[1]
		}
		return strings.TrimSuffix(parts[0], "s"), ""
	case "objects":
		return "object", strings.Join(parts[1:], "/")
	case "query", "route", "admin", "health", "stats":
		return parts[0], ""
	default:
		return "unknown", ""
	}
}
