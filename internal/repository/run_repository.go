package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lingora-app/insight-api/internal/models"
)

// RunRepository persists the aggregation run audit trail.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new instance of RunRepository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, "trigger", status, students_processed, students_failed, assignments_processed, assignments_failed, flags_created, flags_updated, flags_resolved, error_message, started_at, finished_at`

// Create inserts the RUNNING audit row at the start of a run.
func (r *RunRepository) Create(ctx context.Context, run *models.AggregationRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	const query = `INSERT INTO aggregation_runs (id, "trigger", status, students_processed, students_failed, assignments_processed, assignments_failed, flags_created, flags_updated, flags_resolved, error_message, started_at, finished_at)
        VALUES (:id, :trigger, :status, :students_processed, :students_failed, :assignments_processed, :assignments_failed, :flags_created, :flags_updated, :flags_resolved, :error_message, :started_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create aggregation run: %w", err)
	}
	return nil
}

// Finish finalizes the audit row with counters, status and end time.
func (r *RunRepository) Finish(ctx context.Context, run *models.AggregationRun) error {
	const query = `UPDATE aggregation_runs
        SET status = :status,
            students_processed = :students_processed,
            students_failed = :students_failed,
            assignments_processed = :assignments_processed,
            assignments_failed = :assignments_failed,
            flags_created = :flags_created,
            flags_updated = :flags_updated,
            flags_resolved = :flags_resolved,
            error_message = :error_message,
            finished_at = :finished_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("finish aggregation run: %w", err)
	}
	return nil
}

// List returns run history, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]models.AggregationRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM aggregation_runs ORDER BY started_at DESC LIMIT %d", runColumns, limit)
	var runs []models.AggregationRun
	if err := r.db.SelectContext(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("list aggregation runs: %w", err)
	}
	return runs, nil
}

// Latest returns the most recently started run.
func (r *RunRepository) Latest(ctx context.Context) (*models.AggregationRun, error) {
	query := fmt.Sprintf("SELECT %s FROM aggregation_runs ORDER BY started_at DESC LIMIT 1", runColumns)
	var run models.AggregationRun
	if err := r.db.GetContext(ctx, &run, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find latest aggregation run: %w", err)
	}
	return &run, nil
}
