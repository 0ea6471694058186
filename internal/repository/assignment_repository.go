package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lingora-app/insight-api/internal/models"
)

// AssignmentRepository reads assignment metadata and the class/individual
// distribution links that define aggregation scope.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates a new instance of AssignmentRepository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// GetByID returns an assignment by identifier.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, title, language_code, question_count, active, available_at, due_at, created_at, updated_at FROM assignments WHERE id = $1 LIMIT 1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment by id: %w", err)
	}
	return &assignment, nil
}

// ListActiveIDs returns the ids of every active assignment, the fan-out
// population for the assignment phase.
func (r *AssignmentRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM assignments WHERE active = TRUE ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list active assignment ids: %w", err)
	}
	return ids, nil
}

// ListByIDs returns assignments for the given id set, newest first.
func (r *AssignmentRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Assignment, error) {
	if len(ids) == 0 {
		return []models.Assignment{}, nil
	}
	const query = `SELECT id, title, language_code, question_count, active, available_at, due_at, created_at, updated_at FROM assignments WHERE id = ANY($1) ORDER BY created_at DESC`
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list assignments by ids: %w", err)
	}
	return assignments, nil
}

// IDsForStudent returns the deduplicated union of assignments reaching the
// student through any of their classes and assignments linked to them
// individually. activeOnly restricts both arms to active assignments.
func (r *AssignmentRepository) IDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error) {
	activeClause := ""
	if activeOnly {
		activeClause = " AND a.active = TRUE"
	}
	query := fmt.Sprintf(`SELECT a.id FROM assignments a
        JOIN assignment_classes ac ON ac.assignment_id = a.id
        JOIN class_members cm ON cm.class_id = ac.class_id
        WHERE cm.student_id = $1%s
        UNION
        SELECT a.id FROM assignments a
        JOIN assignment_students s ON s.assignment_id = a.id
        WHERE s.student_id = $1%s
        ORDER BY id`, activeClause, activeClause)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, studentID); err != nil {
		return nil, fmt.Errorf("list assignment ids for student: %w", err)
	}
	return ids, nil
}

// StudentIDsForAssignment returns the deduplicated union of students in any
// linked class and individually-linked students. A student in both counts
// once.
func (r *AssignmentRepository) StudentIDsForAssignment(ctx context.Context, assignmentID string) ([]string, error) {
	const query = `SELECT cm.student_id FROM class_members cm
        JOIN assignment_classes ac ON ac.class_id = cm.class_id
        WHERE ac.assignment_id = $1
        UNION
        SELECT s.student_id FROM assignment_students s
        WHERE s.assignment_id = $1
        ORDER BY student_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list student ids for assignment: %w", err)
	}
	return ids, nil
}

// ScheduleCounts splits assignments by schedule state at the given instant:
// scheduled when available_at is in the future, completed when due_at has
// passed, active when the flag is set and neither window applies.
func (r *AssignmentRepository) ScheduleCounts(ctx context.Context, now time.Time) (*models.AssignmentScheduleCounts, error) {
	const query = `SELECT COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN active AND (available_at IS NULL OR available_at <= $1) AND (due_at IS NULL OR due_at >= $1) THEN 1 ELSE 0 END), 0) AS active,
        COALESCE(SUM(CASE WHEN available_at IS NOT NULL AND available_at > $1 THEN 1 ELSE 0 END), 0) AS scheduled,
        COALESCE(SUM(CASE WHEN due_at IS NOT NULL AND due_at < $1 THEN 1 ELSE 0 END), 0) AS completed
        FROM assignments`
	var counts models.AssignmentScheduleCounts
	if err := r.db.GetContext(ctx, &counts, query, now); err != nil {
		return nil, fmt.Errorf("count assignment schedule states: %w", err)
	}
	return &counts, nil
}
