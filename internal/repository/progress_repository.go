package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lingora-app/insight-api/internal/models"
)

// ProgressRepository reads the raw attempt log written by the learning app.
// Rows are append-or-overwrite upstream; ordering and deduplication happen in
// the scoring layer.
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository creates a new instance of ProgressRepository.
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// ListByStudent returns the student's attempts restricted to the given
// assignment scope, oldest first so later rows win ties downstream.
func (r *ProgressRepository) ListByStudent(ctx context.Context, studentID string, assignmentIDs []string) ([]models.ProgressAttempt, error) {
	if len(assignmentIDs) == 0 {
		return []models.ProgressAttempt{}, nil
	}
	const query = `SELECT id, student_id, assignment_id, question_id, complete, correct, score, attempted_at
        FROM progress_attempts
        WHERE student_id = $1 AND assignment_id = ANY($2)
        ORDER BY attempted_at, id`
	var attempts []models.ProgressAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, studentID, pq.Array(assignmentIDs)); err != nil {
		return nil, fmt.Errorf("list attempts for student: %w", err)
	}
	return attempts, nil
}

// ListByAssignment returns every attempt recorded against an assignment,
// oldest first.
func (r *ProgressRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.ProgressAttempt, error) {
	const query = `SELECT id, student_id, assignment_id, question_id, complete, correct, score, attempted_at
        FROM progress_attempts
        WHERE assignment_id = $1
        ORDER BY attempted_at, id`
	var attempts []models.ProgressAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list attempts for assignment: %w", err)
	}
	return attempts, nil
}
