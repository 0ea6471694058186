package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lingora-app/insight-api/internal/models"
)

// SchoolStatsRepository persists the dated school-wide snapshots.
type SchoolStatsRepository struct {
	db *sqlx.DB
}

// NewSchoolStatsRepository creates a new instance of SchoolStatsRepository.
func NewSchoolStatsRepository(db *sqlx.DB) *SchoolStatsRepository {
	return &SchoolStatsRepository{db: db}
}

// Upsert writes the snapshot keyed by its stat_date, updating in place when a
// row for the same day already exists.
func (r *SchoolStatsRepository) Upsert(ctx context.Context, stats *models.SchoolStats) error {
	const query = `INSERT INTO school_stats (stat_date, total_users, total_teachers, total_students, total_classes, total_assignments, active_assignments, scheduled_assignments, completed_assignments, average_completion_rate, average_score, total_questions, total_answers, total_correct_answers, daily_active_students, daily_active_teachers, students_needing_help, last_updated)
        VALUES (:stat_date, :total_users, :total_teachers, :total_students, :total_classes, :total_assignments, :active_assignments, :scheduled_assignments, :completed_assignments, :average_completion_rate, :average_score, :total_questions, :total_answers, :total_correct_answers, :daily_active_students, :daily_active_teachers, :students_needing_help, :last_updated)
        ON CONFLICT (stat_date)
        DO UPDATE SET total_users = EXCLUDED.total_users,
            total_teachers = EXCLUDED.total_teachers,
            total_students = EXCLUDED.total_students,
            total_classes = EXCLUDED.total_classes,
            total_assignments = EXCLUDED.total_assignments,
            active_assignments = EXCLUDED.active_assignments,
            scheduled_assignments = EXCLUDED.scheduled_assignments,
            completed_assignments = EXCLUDED.completed_assignments,
            average_completion_rate = EXCLUDED.average_completion_rate,
            average_score = EXCLUDED.average_score,
            total_questions = EXCLUDED.total_questions,
            total_answers = EXCLUDED.total_answers,
            total_correct_answers = EXCLUDED.total_correct_answers,
            daily_active_students = EXCLUDED.daily_active_students,
            daily_active_teachers = EXCLUDED.daily_active_teachers,
            students_needing_help = EXCLUDED.students_needing_help,
            last_updated = EXCLUDED.last_updated`
	if _, err := r.db.NamedExecContext(ctx, query, stats); err != nil {
		return fmt.Errorf("upsert school stats: %w", err)
	}
	return nil
}

// GetByDate returns the snapshot for one calendar day.
func (r *SchoolStatsRepository) GetByDate(ctx context.Context, date time.Time) (*models.SchoolStats, error) {
	const query = `SELECT stat_date, total_users, total_teachers, total_students, total_classes, total_assignments, active_assignments, scheduled_assignments, completed_assignments, average_completion_rate, average_score, total_questions, total_answers, total_correct_answers, daily_active_students, daily_active_teachers, students_needing_help, last_updated FROM school_stats WHERE stat_date = $1 LIMIT 1`
	var stats models.SchoolStats
	if err := r.db.GetContext(ctx, &stats, query, date); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find school stats by date: %w", err)
	}
	return &stats, nil
}

// ListRange returns snapshots with stat_date in [from, to], oldest first.
func (r *SchoolStatsRepository) ListRange(ctx context.Context, from, to time.Time) ([]models.SchoolStats, error) {
	const query = `SELECT stat_date, total_users, total_teachers, total_students, total_classes, total_assignments, active_assignments, scheduled_assignments, completed_assignments, average_completion_rate, average_score, total_questions, total_answers, total_correct_answers, daily_active_students, daily_active_teachers, students_needing_help, last_updated FROM school_stats WHERE stat_date BETWEEN $1 AND $2 ORDER BY stat_date`
	var stats []models.SchoolStats
	if err := r.db.SelectContext(ctx, &stats, query, from, to); err != nil {
		return nil, fmt.Errorf("list school stats range: %w", err)
	}
	return stats, nil
}

// Latest returns the most recent snapshot.
func (r *SchoolStatsRepository) Latest(ctx context.Context) (*models.SchoolStats, error) {
	const query = `SELECT stat_date, total_users, total_teachers, total_students, total_classes, total_assignments, active_assignments, scheduled_assignments, completed_assignments, average_completion_rate, average_score, total_questions, total_answers, total_correct_answers, daily_active_students, daily_active_teachers, students_needing_help, last_updated FROM school_stats ORDER BY stat_date DESC LIMIT 1`
	var stats models.SchoolStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find latest school stats: %w", err)
	}
	return &stats, nil
}
