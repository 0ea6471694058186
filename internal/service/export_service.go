package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	"github.com/lingora-app/insight-api/pkg/export"
	"github.com/lingora-app/insight-api/pkg/storage"
)

// defaultSummaryWindowDays is how far back the school summary reaches when
// the request names no explicit window.
const defaultSummaryWindowDays = 30

type rosterExportSource interface {
	ListForExport(ctx context.Context, severity models.HelpSeverity, teacherID string) ([]models.NeedsHelpRecord, error)
}

type snapshotExportSource interface {
	ListRange(ctx context.Context, from, to time.Time) ([]models.SchoolStats, error)
}

type exportNameReader interface {
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	RenderWithChart(data export.Dataset, title string, chartPNG []byte) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets from the engine's own aggregates and
// persists the rendered files.
type ExportService struct {
	roster    rosterExportSource
	snapshots snapshotExportSource
	names     exportNameReader
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(roster rosterExportSource, snapshots snapshotExportSource, names exportNameReader, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		roster:    roster,
		snapshots: snapshots,
		names:     names,
		storage:   files,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Generate builds the dataset for the job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}

	var (
		dataset export.Dataset
		title   string
		chart   []byte
		err     error
	)
	switch job.Type {
	case models.ReportTypeNeedsHelpRoster:
		dataset, title, chart, err = s.buildRosterDataset(ctx, job.Params)
	case models.ReportTypeSchoolSummary:
		dataset, title, err = s.buildSummaryDataset(ctx, job.Params)
	default:
		err = fmt.Errorf("unsupported report type %s", job.Type)
	}
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.RenderWithChart(dataset, title, chart)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when
// ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	scope := "all"
	switch {
	case job.Params.Severity != nil && *job.Params.Severity != "":
		scope = strings.ToLower(string(*job.Params.Severity))
	case job.Params.TeacherID != nil && *job.Params.TeacherID != "":
		scope = sanitizeFilename(*job.Params.TeacherID)
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), scope, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildRosterDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, []byte, error) {
	var severity models.HelpSeverity
	if params.Severity != nil {
		severity = *params.Severity
	}
	records, err := s.roster.ListForExport(ctx, severity, deref(params.TeacherID))
	if err != nil {
		return export.Dataset{}, "", nil, err
	}

	names := map[string]string{}
	if len(records) > 0 && s.names != nil {
		ids := make([]string, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.StudentID)
		}
		resolved, err := s.names.NamesByIDs(ctx, ids)
		if err != nil {
			s.logger.Warn("student names unavailable for roster export", zap.Error(err))
		} else {
			names = resolved
		}
	}

	var dist models.SeverityDistribution
	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		switch record.Severity {
		case models.SeverityCritical:
			dist.Critical++
		case models.SeverityWarning:
			dist.Warning++
		default:
			dist.Recent++
		}
		rows = append(rows, map[string]string{
			"Student ID":     record.StudentID,
			"Student Name":   names[record.StudentID],
			"Severity":       string(record.Severity),
			"Days Flagged":   fmt.Sprintf("%d", record.DaysNeedingHelp),
			"Reasons":        strings.Join(record.Reasons, "; "),
			"Completion (%)": fmt.Sprintf("%.2f", record.CompletionRate),
			"Average Score":  fmt.Sprintf("%.2f", record.AverageScore),
			"Overdue":        fmt.Sprintf("%d", record.OverdueAssignments),
			"Flagged Since":  record.NeedsHelpSince.UTC().Format("2006-01-02"),
			"Classes":        strings.Join(record.AssociatedClasses, "; "),
			"Teacher Notes":  deref(record.TeacherNotes),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student ID", "Student Name", "Severity", "Days Flagged", "Reasons", "Completion (%)", "Average Score", "Overdue", "Flagged Since", "Classes", "Teacher Notes"},
		Rows:    rows,
	}

	title := "Needs-Help Roster"
	if severity != "" {
		title = fmt.Sprintf("Needs-Help Roster (%s)", severity)
	}

	var chart []byte
	if params.Format == models.ReportFormatPDF && len(records) > 0 {
		chart, err = export.BarChart("Unresolved flags by severity",
			[]string{"RECENT", "WARNING", "CRITICAL"},
			[]float64{float64(dist.Recent), float64(dist.Warning), float64(dist.Critical)})
		if err != nil {
			s.logger.Warn("severity chart rendering failed, exporting table only", zap.Error(err))
			chart = nil
		}
	}
	return dataset, title, chart, nil
}

func (s *ExportService) buildSummaryDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	to := s.now().UTC()
	if params.To != nil {
		to = params.To.UTC()
	}
	from := to.AddDate(0, 0, -defaultSummaryWindowDays)
	if params.From != nil {
		from = params.From.UTC()
	}
	fromDay, toDay := statDate(from), statDate(to)
	if fromDay.After(toDay) {
		return export.Dataset{}, "", fmt.Errorf("summary window starts after it ends")
	}
	if toDay.Sub(fromDay) > maxSnapshotRangeDays*24*time.Hour {
		return export.Dataset{}, "", fmt.Errorf("summary window limited to %d days", maxSnapshotRangeDays)
	}

	snapshots, err := s.snapshots.ListRange(ctx, fromDay, toDay)
	if err != nil {
		return export.Dataset{}, "", err
	}

	rows := make([]map[string]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		rows = append(rows, map[string]string{
			"Date":               snapshot.StatDate.UTC().Format("2006-01-02"),
			"Students":           fmt.Sprintf("%d", snapshot.TotalStudents),
			"Teachers":           fmt.Sprintf("%d", snapshot.TotalTeachers),
			"Classes":            fmt.Sprintf("%d", snapshot.TotalClasses),
			"Assignments":        fmt.Sprintf("%d", snapshot.TotalAssignments),
			"Avg Completion (%)": fmt.Sprintf("%.2f", snapshot.AverageCompletionRate),
			"Avg Score":          fmt.Sprintf("%.2f", snapshot.AverageScore),
			"Daily Active":       fmt.Sprintf("%d", snapshot.DailyActiveStudents),
			"Needing Help":       fmt.Sprintf("%d", snapshot.StudentsNeedingHelp),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Date", "Students", "Teachers", "Classes", "Assignments", "Avg Completion (%)", "Avg Score", "Daily Active", "Needing Help"},
		Rows:    rows,
	}
	title := fmt.Sprintf("School Summary %s to %s", fromDay.Format("2006-01-02"), toDay.Format("2006-01-02"))
	return dataset, title, nil
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
