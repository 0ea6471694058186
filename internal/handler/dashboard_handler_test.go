package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
)

type fakeDashboardSrv struct {
	overview *models.DashboardOverview
	hit      bool
	err      error
}

func (f *fakeDashboardSrv) Overview(context.Context) (*models.DashboardOverview, bool, error) {
	return f.overview, f.hit, f.err
}

func TestDashboardHandlerOverviewSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDashboardHandler(&fakeDashboardSrv{
		overview: &models.DashboardOverview{
			School:      &models.SchoolStats{TotalStudents: 240},
			Severity:    models.SeverityDistribution{Warning: 3, Critical: 1},
			RecentFlags: []models.NeedsHelpRecord{},
			GeneratedAt: time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC),
		},
		hit: true,
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/dashboard/overview", nil)

	handler.Overview(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	severity, ok := envelope.Data["severity"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, float64(3), severity["warning"])
}

func TestDashboardHandlerOverviewError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDashboardHandler(&fakeDashboardSrv{
		err: appErrors.Clone(appErrors.ErrUnavailable, "aggregates unavailable"),
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/dashboard/overview", nil)

	handler.Overview(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type responseEnvelope struct {
	Data map[string]interface{} `json:"data"`
	Meta map[string]interface{} `json:"meta"`
}

type listEnvelope struct {
	Data       []map[string]interface{} `json:"data"`
	Pagination map[string]interface{}   `json:"pagination"`
	Meta       map[string]interface{}   `json:"meta"`
}
