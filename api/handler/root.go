package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by the root and health endpoints.
var Version = "0.1.0"

// Root returns a handler for GET /.
func Root() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "promozone",
			"version": Version,
			"status":  "running",
			"endpoints": gin.H{
				"health":   "/api/v1/health",
				"collect":  "/api/v1/collect",
				"products": "/api/v1/products/recent",
				"stats":    "/api/v1/products/stats",
				"metrics":  "/metrics",
			},
		})
	}
}
