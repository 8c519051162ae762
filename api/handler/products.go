package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/promozone/models"
)

// ProductReader is the read side of the record store.
type ProductReader interface {
	Recent(ctx context.Context, hours, limit int) ([]models.StoredRecord, error)
	Stats(ctx context.Context) (models.StoreStats, error)
}

type recentQuery struct {
	Hours int `form:"hours,default=24" binding:"min=1,max=720"`
	Limit int `form:"limit,default=100" binding:"min=1,max=1000"`
}

var errNoWarehouse = models.NewAPIError(models.ErrCodeStoreUnavailable, "no warehouse configured", nil)

// RecentProducts returns a handler for GET /api/v1/products/recent.
func RecentProducts(pr ProductReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pr == nil {
			respondError(c, errNoWarehouse)
			return
		}
		var q recentQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, models.NewAPIError(models.ErrCodeInvalidInput, err.Error(), err))
			return
		}

		records, err := pr.Recent(c.Request.Context(), q.Hours, q.Limit)
		if err != nil {
			respondError(c, models.NewAPIError(models.ErrCodeStoreUnavailable, "query recent products", err))
			return
		}
		if records == nil {
			records = []models.StoredRecord{}
		}
		c.JSON(http.StatusOK, models.RecentProductsResponse{
			Hours:    q.Hours,
			Limit:    q.Limit,
			Count:    len(records),
			Products: records,
		})
	}
}

// ProductStats returns a handler for GET /api/v1/products/stats.
func ProductStats(pr ProductReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pr == nil {
			respondError(c, errNoWarehouse)
			return
		}
		stats, err := pr.Stats(c.Request.Context())
		if err != nil {
			respondError(c, models.NewAPIError(models.ErrCodeStoreUnavailable, "query store stats", err))
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
