package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lingora-app/insight-api/internal/models"
)

// ClassRepository reads class rosters owned by the platform's roster service.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository creates a new instance of ClassRepository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// CountActive returns the number of active classes.
func (r *ClassRepository) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM classes WHERE active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count active classes: %w", err)
	}
	return count, nil
}

// ContextForStudent returns the active classes a student belongs to and the
// teachers owning them, in stable class order.
func (r *ClassRepository) ContextForStudent(ctx context.Context, studentID string) (*models.ClassContext, error) {
	const query = `SELECT c.id, c.teacher_id FROM classes c
        JOIN class_members m ON m.class_id = c.id
        WHERE m.student_id = $1 AND c.active = TRUE
        ORDER BY c.id`
	type row struct {
		ID        string `db:"id"`
		TeacherID string `db:"teacher_id"`
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("load class context for student: %w", err)
	}

	cc := &models.ClassContext{
		ClassIDs:   make([]string, 0, len(rows)),
		TeacherIDs: make([]string, 0, len(rows)),
	}
	seenTeacher := make(map[string]bool, len(rows))
	for _, rrow := range rows {
		cc.ClassIDs = append(cc.ClassIDs, rrow.ID)
		if !seenTeacher[rrow.TeacherID] {
			seenTeacher[rrow.TeacherID] = true
			cc.TeacherIDs = append(cc.TeacherIDs, rrow.TeacherID)
		}
	}
	return cc, nil
}
