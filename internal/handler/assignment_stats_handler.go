package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lingora-app/insight-api/internal/middleware"
	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/response"
)

type assignmentStatsReader interface {
	GetAssignment(ctx context.Context, assignmentID string) (*models.AssignmentStats, bool, error)
}

type assignmentProgressReader interface {
	AssignmentProgress(ctx context.Context, assignmentID string) (*models.AssignmentProgress, error)
}

// AssignmentStatsHandler exposes per-assignment statistics endpoints.
type AssignmentStatsHandler struct {
	stats    assignmentStatsReader
	progress assignmentProgressReader
}

// NewAssignmentStatsHandler constructs the handler.
func NewAssignmentStatsHandler(stats assignmentStatsReader, progress assignmentProgressReader) *AssignmentStatsHandler {
	return &AssignmentStatsHandler{stats: stats, progress: progress}
}

// Statistics godoc
// @Summary Materialized statistics for an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/statistics [get]
func (h *AssignmentStatsHandler) Statistics(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	stats, cacheHit, err := h.stats.GetAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, stats, nil, meta)
}

// Progress godoc
// @Summary Live completion progress for an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/progress [get]
func (h *AssignmentStatsHandler) Progress(c *gin.Context) {
	if h.progress == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	progress, err := h.progress.AssignmentProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}
