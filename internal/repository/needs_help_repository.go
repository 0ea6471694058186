package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lingora-app/insight-api/internal/models"
)

// NeedsHelpRepository persists flag lifecycle records. A partial unique index
// on (student_id) WHERE NOT resolved guarantees at most one open record per
// student; resolved rows are kept as history.
type NeedsHelpRepository struct {
	db *sqlx.DB
}

// NewNeedsHelpRepository creates a new instance of NeedsHelpRepository.
func NewNeedsHelpRepository(db *sqlx.DB) *NeedsHelpRepository {
	return &NeedsHelpRepository{db: db}
}

const needsHelpColumns = `id, student_id, reasons, needs_help_since, days_needing_help, severity, average_score, completion_rate, overdue_assignments, associated_classes, associated_teachers, teacher_notes, resolved, resolved_at, resolved_by, created_at, updated_at`

// GetByID returns a flag record by identifier.
func (r *NeedsHelpRepository) GetByID(ctx context.Context, id string) (*models.NeedsHelpRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM needs_help_records WHERE id = $1 LIMIT 1`, needsHelpColumns)
	var record models.NeedsHelpRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find needs-help record: %w", err)
	}
	return &record, nil
}

// GetUnresolvedByStudent returns the student's open flag record, if any.
func (r *NeedsHelpRepository) GetUnresolvedByStudent(ctx context.Context, studentID string) (*models.NeedsHelpRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM needs_help_records WHERE student_id = $1 AND resolved = FALSE LIMIT 1`, needsHelpColumns)
	var record models.NeedsHelpRecord
	if err := r.db.GetContext(ctx, &record, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find unresolved needs-help record: %w", err)
	}
	return &record, nil
}

// Create inserts a fresh flag record.
func (r *NeedsHelpRepository) Create(ctx context.Context, record *models.NeedsHelpRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const query = `INSERT INTO needs_help_records (id, student_id, reasons, needs_help_since, days_needing_help, severity, average_score, completion_rate, overdue_assignments, associated_classes, associated_teachers, teacher_notes, resolved, resolved_at, resolved_by, created_at, updated_at)
        VALUES (:id, :student_id, :reasons, :needs_help_since, :days_needing_help, :severity, :average_score, :completion_rate, :overdue_assignments, :associated_classes, :associated_teachers, :teacher_notes, :resolved, :resolved_at, :resolved_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create needs-help record: %w", err)
	}
	return nil
}

// UpdateEvaluation refreshes the snapshot fields of an open record after a
// pipeline evaluation. needs_help_since and teacher_notes are never touched.
func (r *NeedsHelpRepository) UpdateEvaluation(ctx context.Context, record *models.NeedsHelpRecord) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE needs_help_records
        SET reasons = :reasons,
            days_needing_help = :days_needing_help,
            severity = :severity,
            average_score = :average_score,
            completion_rate = :completion_rate,
            overdue_assignments = :overdue_assignments,
            associated_classes = :associated_classes,
            associated_teachers = :associated_teachers,
            updated_at = :updated_at
        WHERE id = :id AND resolved = FALSE`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("update needs-help evaluation: %w", err)
	}
	return nil
}

// Resolve closes an open record. Returns sql.ErrNoRows when the record is
// missing or already resolved, so callers can distinguish the race.
func (r *NeedsHelpRepository) Resolve(ctx context.Context, id, resolvedBy string, at time.Time) error {
	const query = `UPDATE needs_help_records SET resolved = TRUE, resolved_at = $2, resolved_by = $3, updated_at = $2 WHERE id = $1 AND resolved = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, at, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolve needs-help record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve needs-help record: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateNotes replaces the collaborator-owned teacher notes.
func (r *NeedsHelpRepository) UpdateNotes(ctx context.Context, id, notes string, at time.Time) error {
	const query = `UPDATE needs_help_records SET teacher_notes = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, notes, at)
	if err != nil {
		return fmt.Errorf("update needs-help notes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update needs-help notes: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns flag records matching the filter with a total count, newest
// first. Unresolved only unless IncludeResolved is set.
func (r *NeedsHelpRepository) List(ctx context.Context, filter models.NeedsHelpFilter) ([]models.NeedsHelpRecord, int, error) {
	base := `FROM needs_help_records WHERE 1=1`
	var conditions []string
	var args []interface{}

	if !filter.IncludeResolved {
		conditions = append(conditions, "resolved = FALSE")
	}
	if filter.Severity != "" {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)+1))
		args = append(args, filter.Severity)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(associated_teachers)", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", needsHelpColumns, base, pageSize, offset)
	var records []models.NeedsHelpRecord
	if err := r.db.SelectContext(ctx, &records, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list needs-help records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count needs-help records: %w", err)
	}

	return records, total, nil
}

// ListForExport returns every open record matching the filters, most severe
// first. Exports must carry the full roster, so no pagination here.
func (r *NeedsHelpRepository) ListForExport(ctx context.Context, severity models.HelpSeverity, teacherID string) ([]models.NeedsHelpRecord, error) {
	base := `FROM needs_help_records WHERE resolved = FALSE`
	var args []interface{}
	if severity != "" {
		args = append(args, severity)
		base += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if teacherID != "" {
		args = append(args, teacherID)
		base += fmt.Sprintf(" AND $%d = ANY(associated_teachers)", len(args))
	}
	query := fmt.Sprintf(`SELECT %s %s
        ORDER BY CASE severity WHEN 'CRITICAL' THEN 0 WHEN 'WARNING' THEN 1 ELSE 2 END, days_needing_help DESC, student_id`, needsHelpColumns, base)
	var records []models.NeedsHelpRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list needs-help records for export: %w", err)
	}
	return records, nil
}

// ListRecent returns the newest open records for the dashboard.
func (r *NeedsHelpRepository) ListRecent(ctx context.Context, limit int) ([]models.NeedsHelpRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf("SELECT %s FROM needs_help_records WHERE resolved = FALSE ORDER BY created_at DESC LIMIT %d", needsHelpColumns, limit)
	var records []models.NeedsHelpRecord
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("list recent needs-help records: %w", err)
	}
	return records, nil
}

// CountUnresolved returns the number of open flag records.
func (r *NeedsHelpRepository) CountUnresolved(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM needs_help_records WHERE resolved = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count unresolved needs-help records: %w", err)
	}
	return count, nil
}

// SeverityDistribution counts open records per severity band.
func (r *NeedsHelpRepository) SeverityDistribution(ctx context.Context) (*models.SeverityDistribution, error) {
	const query = `SELECT COALESCE(SUM(CASE WHEN severity = 'RECENT' THEN 1 ELSE 0 END), 0) AS recent,
        COALESCE(SUM(CASE WHEN severity = 'WARNING' THEN 1 ELSE 0 END), 0) AS warning,
        COALESCE(SUM(CASE WHEN severity = 'CRITICAL' THEN 1 ELSE 0 END), 0) AS critical
        FROM needs_help_records WHERE resolved = FALSE`
	var dist struct {
		Recent   int `db:"recent"`
		Warning  int `db:"warning"`
		Critical int `db:"critical"`
	}
	if err := r.db.GetContext(ctx, &dist, query); err != nil {
		return nil, fmt.Errorf("load severity distribution: %w", err)
	}
	return &models.SeverityDistribution{Recent: dist.Recent, Warning: dist.Warning, Critical: dist.Critical}, nil
}
