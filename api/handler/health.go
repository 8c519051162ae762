package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/promozone/models"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const pingTimeout = 3 * time.Second

// Health returns a handler for GET /api/v1/health.
//
// The crawler is always reported healthy. The warehouse is degraded when it
// is not configured or its ping fails; any degraded service degrades the
// overall status. The endpoint answers 200 either way.
func Health(warehouse Pinger, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		services := map[string]string{
			"crawler":   "healthy",
			"warehouse": "healthy",
		}

		if warehouse == nil {
			services["warehouse"] = "degraded: not configured"
		} else {
			ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
			err := warehouse.Ping(ctx)
			cancel()
			if err != nil {
				services["warehouse"] = "degraded: " + err.Error()
			}
		}

		status := "healthy"
		for _, s := range services {
			if s != "healthy" {
				status = "degraded"
			}
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC(),
			Version:   Version,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Services:  services,
		})
	}
}
