package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingora-app/insight-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestFindUserByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "full_name", "role", "active", "created_at", "updated_at"}).
		AddRow("u1", "student@example.com", "Student One", string(models.RoleStudent), true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name, role, active, created_at, updated_at FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("u1").
		WillReturnRows(rows)

	user, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "student@example.com", user.Email)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveStudentIDs(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"id"}).AddRow("s1").AddRow("s2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE role = $1 AND active = TRUE ORDER BY id")).
		WithArgs(models.RoleStudent).
		WillReturnRows(rows)

	ids, err := repo.ListActiveStudentIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByRole(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"total", "teachers", "students"}).AddRow(120, 15, 100)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS total").WillReturnRows(rows)

	total, teachers, students, err := repo.CountByRole(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, total)
	assert.Equal(t, 15, teachers)
	assert.Equal(t, 100, students)
	assert.NoError(t, mock.ExpectationsWereMet())
}
