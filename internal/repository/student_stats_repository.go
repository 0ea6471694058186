package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lingora-app/insight-api/internal/models"
)

// StudentStatsRepository persists the per-student materialized aggregates.
type StudentStatsRepository struct {
	db *sqlx.DB
}

// NewStudentStatsRepository creates a new instance of StudentStatsRepository.
func NewStudentStatsRepository(db *sqlx.DB) *StudentStatsRepository {
	return &StudentStatsRepository{db: db}
}

// Upsert writes the student's aggregate row, overwriting any previous run's
// values for the same student.
func (r *StudentStatsRepository) Upsert(ctx context.Context, stats *models.StudentStats) error {
	const query = `INSERT INTO student_stats (student_id, total_assignments, completed_assignments, in_progress_assignments, average_score, total_questions, total_answers, total_correct_answers, accuracy_rate, completion_rate, last_updated)
        VALUES (:student_id, :total_assignments, :completed_assignments, :in_progress_assignments, :average_score, :total_questions, :total_answers, :total_correct_answers, :accuracy_rate, :completion_rate, :last_updated)
        ON CONFLICT (student_id)
        DO UPDATE SET total_assignments = EXCLUDED.total_assignments,
            completed_assignments = EXCLUDED.completed_assignments,
            in_progress_assignments = EXCLUDED.in_progress_assignments,
            average_score = EXCLUDED.average_score,
            total_questions = EXCLUDED.total_questions,
            total_answers = EXCLUDED.total_answers,
            total_correct_answers = EXCLUDED.total_correct_answers,
            accuracy_rate = EXCLUDED.accuracy_rate,
            completion_rate = EXCLUDED.completion_rate,
            last_updated = EXCLUDED.last_updated`
	if _, err := r.db.NamedExecContext(ctx, query, stats); err != nil {
		return fmt.Errorf("upsert student stats: %w", err)
	}
	return nil
}

// GetByStudentID returns the stored aggregate row for a student.
func (r *StudentStatsRepository) GetByStudentID(ctx context.Context, studentID string) (*models.StudentStats, error) {
	const query = `SELECT student_id, total_assignments, completed_assignments, in_progress_assignments, average_score, total_questions, total_answers, total_correct_answers, accuracy_rate, completion_rate, last_updated FROM student_stats WHERE student_id = $1 LIMIT 1`
	var stats models.StudentStats
	if err := r.db.GetContext(ctx, &stats, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student stats: %w", err)
	}
	return &stats, nil
}
