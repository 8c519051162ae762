package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/promozone/models"
	"github.com/use-agent/promozone/runs"
)

// RunService is the part of runs.Tracker the collect endpoints use.
type RunService interface {
	Submit(req models.CollectRequest) (runs.Submission, error)
	Status(runID string) (models.RunState, bool)
	Cancel(runID string) error
}

// PostCollect returns a handler for POST /api/v1/collect.
//
// The run is accepted and executed in the background; the response only
// carries its identifiers. Poll GET /api/v1/collect/:id for progress.
func PostCollect(rs RunService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CollectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewAPIError(models.ErrCodeInvalidInput, err.Error(), err))
			return
		}

		sub, err := rs.Submit(req)
		switch {
		case errors.Is(err, runs.ErrNoSources):
			respondError(c, models.NewAPIError(models.ErrCodeInvalidInput, "sources must contain at least one non-empty term", err))
			return
		case errors.Is(err, runs.ErrShuttingDown):
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: &models.ErrorDetail{
				Code:    models.ErrCodeInternal,
				Message: "server is shutting down",
			}})
			return
		case err != nil:
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, models.CollectResponse{
			RunID:                sub.RunID,
			CrawlID:              sub.CrawlID,
			Status:               models.RunStarted,
			Message:              fmt.Sprintf("collection started for %d source(s)", len(sub.Sources)),
			Sources:              sub.Sources,
			EstimatedTimeSeconds: sub.EstimatedSeconds,
		})
	}
}

// GetCollect returns a handler for GET /api/v1/collect/:id.
func GetCollect(rs RunService) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, ok := rs.Status(c.Param("id"))
		if !ok {
			respondError(c, models.NewAPIError(models.ErrCodeNotFound, "run not found", nil))
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// DeleteCollect returns a handler for DELETE /api/v1/collect/:id.
func DeleteCollect(rs RunService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		err := rs.Cancel(id)
		switch {
		case errors.Is(err, runs.ErrNotFound):
			respondError(c, models.NewAPIError(models.ErrCodeNotFound, "run not found", err))
		case errors.Is(err, runs.ErrTerminal):
			respondError(c, models.NewAPIError(models.ErrCodeConflict, "run already finished", err))
		case err != nil:
			respondError(c, err)
		default:
			c.JSON(http.StatusAccepted, gin.H{"run_id": id, "message": "cancel requested"})
		}
	}
}
