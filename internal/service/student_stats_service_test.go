package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/retry"
)

type studentStatsSourceStub struct {
	students    []string
	rosterErr   error
	scope       map[string][]string
	scopeErr    map[string]error
	assignments map[string]models.Assignment
	attempts    map[string][]models.ProgressAttempt
}

func (s *studentStatsSourceStub) ListActiveStudentIDs(ctx context.Context) ([]string, error) {
	if s.rosterErr != nil {
		return nil, s.rosterErr
	}
	return s.students, nil
}

func (s *studentStatsSourceStub) AssignmentIDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error) {
	if err := s.scopeErr[studentID]; err != nil {
		return nil, err
	}
	return s.scope[studentID], nil
}

func (s *studentStatsSourceStub) ListByIDs(ctx context.Context, ids []string) ([]models.Assignment, error) {
	var out []models.Assignment
	for _, id := range ids {
		if a, ok := s.assignments[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *studentStatsSourceStub) ListByStudent(ctx context.Context, studentID string, assignmentIDs []string) ([]models.ProgressAttempt, error) {
	return s.attempts[studentID], nil
}

type studentStatsStoreStub struct {
	mu        sync.Mutex
	rows      map[string]*models.StudentStats
	upsertErr error
}

func newStudentStatsStoreStub() *studentStatsStoreStub {
	return &studentStatsStoreStub{rows: map[string]*models.StudentStats{}}
}

func (s *studentStatsStoreStub) Upsert(ctx context.Context, stats *models.StudentStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	clone := *stats
	s.rows[stats.StudentID] = &clone
	return nil
}

func (s *studentStatsStoreStub) GetByStudentID(ctx context.Context, studentID string) (*models.StudentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func newStudentStatsForTest(src *studentStatsSourceStub, store *studentStatsStoreStub) *StudentStatsService {
	svc := NewStudentStatsService(src, src, src, src, store, nil, nil, 2, retry.Policy{MaxAttempts: 1}, time.Minute, zap.NewNop())
	svc.now = func() time.Time { return evalNow }
	return svc
}

func TestComputeStudentPartialProgress(t *testing.T) {
	src := &studentStatsSourceStub{
		scope: map[string][]string{"s1": {"a1"}},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 4, Active: true},
		},
		attempts: map[string][]models.ProgressAttempt{
			"s1": {helpAttempt("a1", "q1", true), helpAttempt("a1", "q2", true)},
		},
	}
	store := newStudentStatsStoreStub()
	svc := newStudentStatsForTest(src, store)

	require.NoError(t, svc.ComputeStudent(context.Background(), "s1"))

	row := store.rows["s1"]
	require.NotNil(t, row)
	assert.Equal(t, 1, row.TotalAssignments)
	assert.Equal(t, 0, row.CompletedAssignments)
	assert.Equal(t, 1, row.InProgressAssignments)
	assert.Equal(t, 4, row.TotalQuestions)
	assert.Equal(t, 2, row.TotalAnswers)
	assert.Equal(t, 2, row.TotalCorrectAnswers)
	assert.InDelta(t, 0.0, row.CompletionRate, 0.001)
	assert.InDelta(t, 100.0, row.AccuracyRate, 0.001)
	assert.InDelta(t, 0.0, row.AverageScore, 0.001)
	assert.Equal(t, evalNow, row.LastUpdated)
}

func TestComputeStudentCompletionMix(t *testing.T) {
	src := &studentStatsSourceStub{
		scope:       map[string][]string{"s1": {}},
		assignments: map[string]models.Assignment{},
		attempts:    map[string][]models.ProgressAttempt{},
	}
	var attempts []models.ProgressAttempt
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("a%d", i)
		src.scope["s1"] = append(src.scope["s1"], id)
		src.assignments[id] = models.Assignment{ID: id, QuestionCount: 2, Active: true}
		switch {
		case i < 6:
			attempts = append(attempts, helpAttempt(id, "q1", true), helpAttempt(id, "q2", true))
		case i < 8:
			attempts = append(attempts, helpAttempt(id, "q1", true))
		}
	}
	src.attempts["s1"] = attempts
	store := newStudentStatsStoreStub()
	svc := newStudentStatsForTest(src, store)

	require.NoError(t, svc.ComputeStudent(context.Background(), "s1"))

	row := store.rows["s1"]
	require.NotNil(t, row)
	assert.Equal(t, 10, row.TotalAssignments)
	assert.Equal(t, 6, row.CompletedAssignments)
	assert.Equal(t, 2, row.InProgressAssignments)
	assert.InDelta(t, 60.0, row.CompletionRate, 0.001)
	assert.InDelta(t, 100.0, row.AverageScore, 0.001)
	assert.Equal(t, 14, row.TotalAnswers)
}

func TestComputeStudentEmptyScope(t *testing.T) {
	src := &studentStatsSourceStub{scope: map[string][]string{}}
	store := newStudentStatsStoreStub()
	svc := newStudentStatsForTest(src, store)

	require.NoError(t, svc.ComputeStudent(context.Background(), "s1"))

	row := store.rows["s1"]
	require.NotNil(t, row)
	assert.Zero(t, row.TotalAssignments)
	assert.Zero(t, row.CompletionRate)
	assert.Equal(t, evalNow, row.LastUpdated)
}

func TestComputeStudentUpsertFailure(t *testing.T) {
	src := &studentStatsSourceStub{scope: map[string][]string{}}
	store := newStudentStatsStoreStub()
	store.upsertErr = errors.New("deadlock detected")
	svc := newStudentStatsForTest(src, store)

	err := svc.ComputeStudent(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpsertConflict.Code))
}

func TestComputeAllIsolatesFailingStudents(t *testing.T) {
	src := &studentStatsSourceStub{
		students: []string{"s1", "s2"},
		scope:    map[string][]string{"s1": nil},
		scopeErr: map[string]error{"s2": errors.New("scope query timeout")},
	}
	store := newStudentStatsStoreStub()
	svc := newStudentStatsForTest(src, store)

	processed, failed, err := svc.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)
	assert.Contains(t, store.rows, "s1")
	assert.NotContains(t, store.rows, "s2")
}

func TestComputeAllRosterFailure(t *testing.T) {
	src := &studentStatsSourceStub{rosterErr: errors.New("connection refused")}
	svc := newStudentStatsForTest(src, newStudentStatsStoreStub())

	_, _, err := svc.ComputeAll(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDataSourceUnavailable.Code))
}

func TestGetStudentStatsReadPath(t *testing.T) {
	store := newStudentStatsStoreStub()
	store.rows["s1"] = &models.StudentStats{StudentID: "s1", TotalAssignments: 3, CompletionRate: 66.67}
	svc := newStudentStatsForTest(&studentStatsSourceStub{}, store)

	row, hit, err := svc.GetStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, row.TotalAssignments)

	_, _, err = svc.GetStudent(context.Background(), "s-missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
}
