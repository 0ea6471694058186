package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lingora-app/insight-api/internal/middleware"
	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/response"
)

type schoolStatsReader interface {
	GetByDate(ctx context.Context, date time.Time) (*models.SchoolStats, bool, error)
	GetRange(ctx context.Context, from, to time.Time) ([]models.SchoolStats, bool, error)
	GetLatest(ctx context.Context) (*models.SchoolStats, bool, error)
}

// SchoolStatsHandler exposes school-wide snapshot endpoints.
type SchoolStatsHandler struct {
	stats schoolStatsReader
}

// NewSchoolStatsHandler constructs the handler.
func NewSchoolStatsHandler(stats schoolStatsReader) *SchoolStatsHandler {
	return &SchoolStatsHandler{stats: stats}
}

// Statistics godoc
// @Summary School snapshot for one date
// @Tags School
// @Produce json
// @Param date query string false "Date (YYYY-MM-DD). Defaults to today"
// @Success 200 {object} response.Envelope
// @Router /school/statistics [get]
func (h *SchoolStatsHandler) Statistics(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	dateStr := strings.TrimSpace(c.Query("date"))
	var date time.Time
	if dateStr == "" {
		date = time.Now().UTC()
	} else {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD"))
			return
		}
		date = parsed
	}
	start := time.Now()
	stats, cacheHit, err := h.stats.GetByDate(c.Request.Context(), date)
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

// Range godoc
// @Summary School snapshots between two dates
// @Tags School
// @Produce json
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /school/statistics/range [get]
func (h *SchoolStatsHandler) Range(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	from, err := parseRequiredDate(c.Query("from"), "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseRequiredDate(c.Query("to"), "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	start := time.Now()
	items, cacheHit, err := h.stats.GetRange(c.Request.Context(), from, to)
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
	response.JSON(c, http.StatusOK, items, nil, meta)
}

// Latest godoc
// @Summary Most recent school snapshot
// @Tags School
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /school/statistics/latest [get]
func (h *SchoolStatsHandler) Latest(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	stats, cacheHit, err := h.stats.GetLatest(c.Request.Context())
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

func parseRequiredDate(raw, name string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, name+" date is required")
	}
	parsed, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid "+name+" date, expected YYYY-MM-DD")
	}
	return parsed, nil
}
