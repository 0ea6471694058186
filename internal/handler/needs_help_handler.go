package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lingora-app/insight-api/internal/dto"
	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/response"
)

type needsHelpService interface {
	List(ctx context.Context, filter models.NeedsHelpFilter) ([]models.NeedsHelpRecord, int, error)
	UpdateNotes(ctx context.Context, id, notes string) (*models.NeedsHelpRecord, error)
	Resolve(ctx context.Context, id, resolvedBy string) (*models.NeedsHelpRecord, error)
}

// NeedsHelpHandler exposes the intervention roster endpoints.
type NeedsHelpHandler struct {
	service needsHelpService
}

// NewNeedsHelpHandler constructs the handler.
func NewNeedsHelpHandler(service needsHelpService) *NeedsHelpHandler {
	return &NeedsHelpHandler{service: service}
}

// List godoc
// @Summary List students flagged as needing help
// @Tags NeedsHelp
// @Produce json
// @Param severity query string false "Filter by severity (RECENT, WARNING, CRITICAL)"
// @Param teacherId query string false "Filter by associated teacher"
// @Param includeResolved query bool false "Include resolved records"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /needs-help [get]
func (h *NeedsHelpHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var filter models.NeedsHelpFilter
	filter.Severity = models.HelpSeverity(strings.ToUpper(strings.TrimSpace(c.Query("severity"))))
	filter.TeacherID = strings.TrimSpace(c.Query("teacherId"))
	filter.IncludeResolved = c.Query("includeResolved") == "true"
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("pageSize", "20")); err == nil {
		filter.PageSize = size
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	records, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, dto.NewNeedsHelpListResponse(records), pagination)
}

// UpdateNotes godoc
// @Summary Update teacher notes on a flag record
// @Tags NeedsHelp
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body dto.NotesUpdateRequest true "Notes payload"
// @Success 200 {object} response.Envelope
// @Router /needs-help/{id}/notes [patch]
func (h *NeedsHelpHandler) UpdateNotes(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var req dto.NotesUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid notes payload"))
		return
	}
	record, err := h.service.UpdateNotes(c.Request.Context(), c.Param("id"), req.TeacherNotes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewNeedsHelpRecordResponse(*record), nil)
}

// Resolve godoc
// @Summary Resolve a flag record
// @Tags NeedsHelp
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body dto.ResolveRequest true "Resolution payload"
// @Success 200 {object} response.Envelope
// @Router /needs-help/{id}/resolve [post]
func (h *NeedsHelpHandler) Resolve(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var req dto.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid resolve payload"))
		return
	}
	record, err := h.service.Resolve(c.Request.Context(), c.Param("id"), req.ResolvedBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewNeedsHelpRecordResponse(*record), nil)
}
