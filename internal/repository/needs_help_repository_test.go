package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingora-app/insight-api/internal/models"
)

func TestCreateNeedsHelpRecord(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNeedsHelpRepository(db)

	mock.ExpectExec("INSERT INTO needs_help_records").WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.NeedsHelpRecord{
		StudentID:       "s1",
		Reasons:         pq.StringArray{string(models.ReasonLowCompletion)},
		NeedsHelpSince:  time.Now().UTC(),
		DaysNeedingHelp: 1,
		Severity:        models.SeverityRecent,
	}
	err := repo.Create(context.Background(), record)
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlreadyResolved(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNeedsHelpRepository(db)

	mock.ExpectExec("UPDATE needs_help_records SET resolved = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Resolve(context.Background(), "r1", "teacher-1", time.Now().UTC())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveOpenRecord(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNeedsHelpRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE needs_help_records SET resolved = TRUE, resolved_at = $2, resolved_by = $3, updated_at = $2 WHERE id = $1 AND resolved = FALSE")).
		WithArgs("r1", at, "teacher-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Resolve(context.Background(), "r1", "teacher-1", at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNeedsHelpDefaultsToUnresolved(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNeedsHelpRepository(db)

	now := time.Now()
	listRows := sqlmock.NewRows([]string{"id", "student_id", "reasons", "needs_help_since", "days_needing_help", "severity", "average_score", "completion_rate", "overdue_assignments", "associated_classes", "associated_teachers", "teacher_notes", "resolved", "resolved_at", "resolved_by", "created_at", "updated_at"}).
		AddRow("r1", "s1", "{LOW_COMPLETION}", now, 3, string(models.SeverityRecent), 40.0, 25.0, 1, "{c1}", "{t1}", nil, false, nil, nil, now, now)
	mock.ExpectQuery("SELECT id, student_id, reasons, .+ FROM needs_help_records WHERE 1=1 AND resolved = FALSE ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WillReturnRows(listRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM needs_help_records WHERE 1=1 AND resolved = FALSE")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	records, total, err := repo.List(context.Background(), models.NeedsHelpFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.SeverityRecent, records[0].Severity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNeedsHelpTeacherFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNeedsHelpRepository(db)

	listRows := sqlmock.NewRows([]string{"id", "student_id", "reasons", "needs_help_since", "days_needing_help", "severity", "average_score", "completion_rate", "overdue_assignments", "associated_classes", "associated_teachers", "teacher_notes", "resolved", "resolved_at", "resolved_by", "created_at", "updated_at"})
	mock.ExpectQuery(`ANY\(associated_teachers\)`).
		WithArgs("t9").
		WillReturnRows(listRows)
	mock.ExpectQuery("SELECT COUNT").WithArgs("t9").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	records, total, err := repo.List(context.Background(), models.NeedsHelpFilter{TeacherID: "t9"})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
