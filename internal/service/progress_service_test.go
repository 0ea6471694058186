package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
)

type progressSourceStub struct {
	assignments        map[string]models.Assignment
	scopeByStudent     map[string][]string
	rosterByAssignment map[string][]string
	attemptsByStudent  map[string][]models.ProgressAttempt
	attemptsByAssign   map[string][]models.ProgressAttempt
	users              map[string]*models.User
}

func (p *progressSourceStub) AssignmentIDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error) {
	return p.scopeByStudent[studentID], nil
}

func (p *progressSourceStub) StudentIDsForAssignment(ctx context.Context, assignmentID string) ([]string, error) {
	return p.rosterByAssignment[assignmentID], nil
}

func (p *progressSourceStub) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	if a, ok := p.assignments[id]; ok {
		return &a, nil
	}
	return nil, sql.ErrNoRows
}

func (p *progressSourceStub) ListByIDs(ctx context.Context, ids []string) ([]models.Assignment, error) {
	var out []models.Assignment
	for _, id := range ids {
		if a, ok := p.assignments[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (p *progressSourceStub) ListByStudent(ctx context.Context, studentID string, assignmentIDs []string) ([]models.ProgressAttempt, error) {
	return p.attemptsByStudent[studentID], nil
}

func (p *progressSourceStub) ListByAssignment(ctx context.Context, assignmentID string) ([]models.ProgressAttempt, error) {
	return p.attemptsByAssign[assignmentID], nil
}

func (p *progressSourceStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := p.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (p *progressSourceStub) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	names := map[string]string{}
	for _, id := range ids {
		if u, ok := p.users[id]; ok {
			names[id] = u.FullName
		}
	}
	return names, nil
}

func newProgressForTest(src *progressSourceStub) *ProgressService {
	svc := NewProgressService(src, src, src, src, nil, zap.NewNop())
	svc.now = func() time.Time { return evalNow }
	return svc
}

func liveAttempt(student, assignment, question string, correct bool) models.ProgressAttempt {
	return models.ProgressAttempt{
		ID:           student + "-" + assignment + "-" + question,
		StudentID:    student,
		AssignmentID: assignment,
		QuestionID:   question,
		Complete:     true,
		Correct:      correct,
		AttemptedAt:  evalNow.Add(-time.Hour),
	}
}

func TestAssignmentProgressIncludesSilentStudents(t *testing.T) {
	src := &progressSourceStub{
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", Title: "Verbs I", QuestionCount: 2, Active: true},
		},
		rosterByAssignment: map[string][]string{"a1": {"s1", "s2"}},
		attemptsByAssign: map[string][]models.ProgressAttempt{
			"a1": {liveAttempt("s1", "a1", "q1", true), liveAttempt("s1", "a1", "q2", true)},
		},
		users: map[string]*models.User{
			"s1": {ID: "s1", FullName: "Mina Park", Role: models.RoleStudent},
			"s2": {ID: "s2", FullName: "Jon Reyes", Role: models.RoleStudent},
		},
	}
	svc := newProgressForTest(src)

	view, err := svc.AssignmentProgress(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Verbs I", view.Title)
	assert.Equal(t, 2, view.TotalStudents)
	assert.Equal(t, 1, view.CompletedStudents)
	assert.Equal(t, 0, view.InProgressStudents)
	assert.Equal(t, 1, view.NotStartedStudents)
	require.Len(t, view.Students, 2)

	first := view.Students[0]
	assert.Equal(t, "Mina Park", first.FullName)
	assert.Equal(t, models.ProgressCompleted, first.Status)
	require.NotNil(t, first.ScorePercent)
	assert.InDelta(t, 100.0, *first.ScorePercent, 0.001)

	second := view.Students[1]
	assert.Equal(t, models.ProgressNotStarted, second.Status)
	assert.Zero(t, second.AnsweredQuestions)
	assert.Nil(t, second.ScorePercent)
}

func TestAssignmentProgressUnknownAssignment(t *testing.T) {
	svc := newProgressForTest(&progressSourceStub{assignments: map[string]models.Assignment{}})
	_, err := svc.AssignmentProgress(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
}

func TestStudentBreakdownMarksOverdue(t *testing.T) {
	due := evalNow.Add(-24 * time.Hour)
	src := &progressSourceStub{
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", Title: "Listening", QuestionCount: 2, Active: true, DueAt: &due},
			"a2": {ID: "a2", Title: "Reading", QuestionCount: 1, Active: true},
		},
		scopeByStudent: map[string][]string{"s1": {"a1", "a2"}},
		attemptsByStudent: map[string][]models.ProgressAttempt{
			"s1": {liveAttempt("s1", "a1", "q1", false), liveAttempt("s1", "a2", "q1", true)},
		},
		users: map[string]*models.User{
			"s1": {ID: "s1", FullName: "Mina Park", Role: models.RoleStudent},
		},
	}
	svc := newProgressForTest(src)

	rows, err := svc.StudentBreakdown(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, models.ProgressInProgress, rows[0].Status)
	assert.True(t, rows[0].Overdue)
	assert.Nil(t, rows[0].ScorePercent)

	assert.Equal(t, models.ProgressCompleted, rows[1].Status)
	assert.False(t, rows[1].Overdue)
	require.NotNil(t, rows[1].ScorePercent)
	assert.InDelta(t, 100.0, *rows[1].ScorePercent, 0.001)
}

func TestStudentBreakdownRejectsNonStudents(t *testing.T) {
	src := &progressSourceStub{
		users: map[string]*models.User{
			"t1": {ID: "t1", FullName: "Ms Alvarez", Role: models.RoleTeacher},
		},
	}
	svc := newProgressForTest(src)

	_, err := svc.StudentBreakdown(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))

	_, err = svc.StudentBreakdown(context.Background(), "t1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
}

func TestStudentBreakdownEmptyScope(t *testing.T) {
	src := &progressSourceStub{
		users: map[string]*models.User{
			"s1": {ID: "s1", FullName: "Mina Park", Role: models.RoleStudent},
		},
	}
	svc := newProgressForTest(src)

	rows, err := svc.StudentBreakdown(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
