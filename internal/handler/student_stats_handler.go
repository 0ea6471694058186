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

type studentStatsReader interface {
	GetStudent(ctx context.Context, studentID string) (*models.StudentStats, bool, error)
}

type studentProgressReader interface {
	StudentBreakdown(ctx context.Context, studentID string) ([]models.StudentAssignmentBreakdown, error)
}

// StudentStatsHandler exposes per-student statistics endpoints.
type StudentStatsHandler struct {
	stats    studentStatsReader
	progress studentProgressReader
}

// NewStudentStatsHandler constructs the handler.
func NewStudentStatsHandler(stats studentStatsReader, progress studentProgressReader) *StudentStatsHandler {
	return &StudentStatsHandler{stats: stats, progress: progress}
}

// Statistics godoc
// @Summary Materialized statistics for a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/statistics [get]
func (h *StudentStatsHandler) Statistics(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	stats, cacheHit, err := h.stats.GetStudent(c.Request.Context(), c.Param("id"))
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
// @Summary Per-assignment breakdown for a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/progress [get]
func (h *StudentStatsHandler) Progress(c *gin.Context) {
	if h.progress == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	breakdown, err := h.progress.StudentBreakdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, breakdown, nil)
}
