package dto

import "github.com/lingora-app/insight-api/internal/models"

// ReportRequest captures POST /reports/generate payload. Severity and
// TeacherID only apply to needs_help_roster, From/To (YYYY-MM-DD) only to
// school_summary.
type ReportRequest struct {
	Type      models.ReportType   `json:"type" validate:"required,oneof=needs_help_roster school_summary"`
	Format    models.ReportFormat `json:"format" validate:"required,oneof=csv pdf"`
	Severity  *string             `json:"severity,omitempty"`
	TeacherID *string             `json:"teacherId,omitempty"`
	From      *string             `json:"from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	To        *string             `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ReportJobResponse is returned after enqueueing a report.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse exposes job progress metadata.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
