package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lingora-app/insight-api/internal/models"
)

// AssignmentStatsRepository persists the per-assignment materialized
// aggregates.
type AssignmentStatsRepository struct {
	db *sqlx.DB
}

// NewAssignmentStatsRepository creates a new instance of AssignmentStatsRepository.
func NewAssignmentStatsRepository(db *sqlx.DB) *AssignmentStatsRepository {
	return &AssignmentStatsRepository{db: db}
}

// Upsert writes the assignment's aggregate row, overwriting any previous
// run's values for the same assignment.
func (r *AssignmentStatsRepository) Upsert(ctx context.Context, stats *models.AssignmentStats) error {
	const query = `INSERT INTO assignment_stats (assignment_id, total_students, total_questions, completed_students, in_progress_students, not_started_students, completion_rate, average_score, total_answers, total_correct_answers, accuracy_rate, last_updated)
        VALUES (:assignment_id, :total_students, :total_questions, :completed_students, :in_progress_students, :not_started_students, :completion_rate, :average_score, :total_answers, :total_correct_answers, :accuracy_rate, :last_updated)
        ON CONFLICT (assignment_id)
        DO UPDATE SET total_students = EXCLUDED.total_students,
            total_questions = EXCLUDED.total_questions,
            completed_students = EXCLUDED.completed_students,
            in_progress_students = EXCLUDED.in_progress_students,
            not_started_students = EXCLUDED.not_started_students,
            completion_rate = EXCLUDED.completion_rate,
            average_score = EXCLUDED.average_score,
            total_answers = EXCLUDED.total_answers,
            total_correct_answers = EXCLUDED.total_correct_answers,
            accuracy_rate = EXCLUDED.accuracy_rate,
            last_updated = EXCLUDED.last_updated`
	if _, err := r.db.NamedExecContext(ctx, query, stats); err != nil {
		return fmt.Errorf("upsert assignment stats: %w", err)
	}
	return nil
}

// GetByAssignmentID returns the stored aggregate row for an assignment.
func (r *AssignmentStatsRepository) GetByAssignmentID(ctx context.Context, assignmentID string) (*models.AssignmentStats, error) {
	const query = `SELECT assignment_id, total_students, total_questions, completed_students, in_progress_students, not_started_students, completion_rate, average_score, total_answers, total_correct_answers, accuracy_rate, last_updated FROM assignment_stats WHERE assignment_id = $1 LIMIT 1`
	var stats models.AssignmentStats
	if err := r.db.GetContext(ctx, &stats, query, assignmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment stats: %w", err)
	}
	return &stats, nil
}

// Rollup averages and sums the current assignment_stats rows for the school
// snapshot. Zero values when no rows exist yet.
func (r *AssignmentStatsRepository) Rollup(ctx context.Context) (*models.AssignmentStatsRollup, error) {
	const query = `SELECT COUNT(*) AS count,
        COALESCE(AVG(completion_rate), 0) AS average_completion_rate,
        COALESCE(AVG(average_score), 0) AS average_score,
        COALESCE(SUM(total_questions), 0) AS total_questions,
        COALESCE(SUM(total_answers), 0) AS total_answers,
        COALESCE(SUM(total_correct_answers), 0) AS total_correct_answers
        FROM assignment_stats`
	var rollup models.AssignmentStatsRollup
	if err := r.db.GetContext(ctx, &rollup, query); err != nil {
		return nil, fmt.Errorf("roll up assignment stats: %w", err)
	}
	return &rollup, nil
}
