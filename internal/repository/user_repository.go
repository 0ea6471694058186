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

// UserRepository reads the platform user directory. The engine never writes
// to it.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, email, full_name, role, active, created_at, updated_at FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// ListActiveStudentIDs returns the ids of every active student, the fan-out
// population for the student phase and the flagging pass.
func (r *UserRepository) ListActiveStudentIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM users WHERE role = $1 AND active = TRUE ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.RoleStudent); err != nil {
		return nil, fmt.Errorf("list active student ids: %w", err)
	}
	return ids, nil
}

// NamesByIDs returns full names keyed by user id for the given set.
func (r *UserRepository) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	const query = `SELECT id, full_name FROM users WHERE id = ANY($1)`
	type row struct {
		ID       string `db:"id"`
		FullName string `db:"full_name"`
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load user names: %w", err)
	}
	names := make(map[string]string, len(rows))
	for _, rrow := range rows {
		names[rrow.ID] = rrow.FullName
	}
	return names, nil
}

// CountByRole returns total user counts split by role for the school snapshot.
func (r *UserRepository) CountByRole(ctx context.Context) (total, teachers, students int, err error) {
	const query = `SELECT COUNT(*) AS total,
        SUM(CASE WHEN role = 'TEACHER' THEN 1 ELSE 0 END) AS teachers,
        SUM(CASE WHEN role = 'STUDENT' THEN 1 ELSE 0 END) AS students
        FROM users WHERE active = TRUE`
	var counts struct {
		Total    int `db:"total"`
		Teachers int `db:"teachers"`
		Students int `db:"students"`
	}
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return 0, 0, 0, fmt.Errorf("count users by role: %w", err)
	}
	return counts.Total, counts.Teachers, counts.Students, nil
}

// CountActiveByRoleSince counts users of a role with a creation or update
// event at or after the given instant. Feeds the daily-active metrics.
func (r *UserRepository) CountActiveByRoleSince(ctx context.Context, role models.UserRole, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM users WHERE role = $1 AND active = TRUE AND (created_at >= $2 OR updated_at >= $2)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, role, since); err != nil {
		return 0, fmt.Errorf("count active users since: %w", err)
	}
	return count, nil
}
