package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lingora-app/insight-api/internal/dto"
	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/jobs"
	"github.com/lingora-app/insight-api/pkg/response"
)

type aggregationReader interface {
	History(ctx context.Context, limit int) ([]models.AggregationRun, error)
	LatestRun(ctx context.Context) (*models.AggregationRun, error)
}

type runDispatcher interface {
	Enqueue(job jobs.Job) error
}

type metricsSnapshotter interface {
	Snapshot() models.SystemMetrics
}

// AdminHandler exposes pipeline administration endpoints.
type AdminHandler struct {
	runs    aggregationReader
	queue   runDispatcher
	metrics metricsSnapshotter
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(runs aggregationReader, queue runDispatcher, metrics metricsSnapshotter) *AdminHandler {
	return &AdminHandler{runs: runs, queue: queue, metrics: metrics}
}

// TriggerRun godoc
// @Summary Queue a manual aggregation run
// @Tags Admin
// @Produce json
// @Success 202 {object} response.Envelope
// @Router /admin/aggregation/run [post]
func (h *AdminHandler) TriggerRun(c *gin.Context) {
	if h.queue == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	runID := uuid.NewString()
	if err := h.queue.Enqueue(jobs.Job{ID: runID, Type: "aggregation"}); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to queue aggregation run"))
		return
	}
	response.Accepted(c, dto.RunTriggerResponse{RunID: runID})
}

// Runs godoc
// @Summary Recent aggregation runs
// @Tags Admin
// @Produce json
// @Param limit query int false "Maximum runs to return"
// @Success 200 {object} response.Envelope
// @Router /admin/aggregation/runs [get]
func (h *AdminHandler) Runs(c *gin.Context) {
	if h.runs == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	runs, err := h.runs.History(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, nil)
}

// Status godoc
// @Summary Latest aggregation run
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/aggregation/status [get]
func (h *AdminHandler) Status(c *gin.Context) {
	if h.runs == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	run, err := h.runs.LatestRun(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// Metrics godoc
// @Summary Operational metrics snapshot
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/metrics [get]
func (h *AdminHandler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
