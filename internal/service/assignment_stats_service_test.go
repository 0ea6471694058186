package service

import (
	"context"
	"database/sql"
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

type assignmentStatsSourceStub struct {
	activeIDs   []string
	assignments map[string]models.Assignment
	roster      map[string][]string
	attempts    map[string][]models.ProgressAttempt
}

func (s *assignmentStatsSourceStub) ListActiveIDs(ctx context.Context) ([]string, error) {
	return s.activeIDs, nil
}

func (s *assignmentStatsSourceStub) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	if a, ok := s.assignments[id]; ok {
		return &a, nil
	}
	return nil, sql.ErrNoRows
}

func (s *assignmentStatsSourceStub) StudentIDsForAssignment(ctx context.Context, assignmentID string) ([]string, error) {
	return s.roster[assignmentID], nil
}

func (s *assignmentStatsSourceStub) ListByAssignment(ctx context.Context, assignmentID string) ([]models.ProgressAttempt, error) {
	return s.attempts[assignmentID], nil
}

type assignmentStatsStoreStub struct {
	mu   sync.Mutex
	rows map[string]*models.AssignmentStats
}

func newAssignmentStatsStoreStub() *assignmentStatsStoreStub {
	return &assignmentStatsStoreStub{rows: map[string]*models.AssignmentStats{}}
}

func (s *assignmentStatsStoreStub) Upsert(ctx context.Context, stats *models.AssignmentStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *stats
	s.rows[stats.AssignmentID] = &clone
	return nil
}

func (s *assignmentStatsStoreStub) GetByAssignmentID(ctx context.Context, assignmentID string) (*models.AssignmentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[assignmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func newAssignmentStatsForTest(src *assignmentStatsSourceStub, store *assignmentStatsStoreStub) *AssignmentStatsService {
	svc := NewAssignmentStatsService(src, src, src, store, nil, nil, 2, retry.Policy{MaxAttempts: 1}, time.Minute, zap.NewNop())
	svc.now = func() time.Time { return evalNow }
	return svc
}

func TestComputeAssignmentCountsStates(t *testing.T) {
	src := &assignmentStatsSourceStub{
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 4, Active: true},
		},
		roster: map[string][]string{"a1": {"s1", "s2", "s3"}},
		attempts: map[string][]models.ProgressAttempt{
			"a1": {
				liveAttempt("s1", "a1", "q1", true),
				liveAttempt("s1", "a1", "q2", true),
				liveAttempt("s1", "a1", "q3", true),
				liveAttempt("s1", "a1", "q4", false),
				liveAttempt("s2", "a1", "q1", true),
				liveAttempt("s2", "a1", "q2", true),
			},
		},
	}
	store := newAssignmentStatsStoreStub()
	svc := newAssignmentStatsForTest(src, store)

	require.NoError(t, svc.ComputeAssignment(context.Background(), "a1"))

	row := store.rows["a1"]
	require.NotNil(t, row)
	assert.Equal(t, 3, row.TotalStudents)
	assert.Equal(t, 4, row.TotalQuestions)
	assert.Equal(t, 1, row.CompletedStudents)
	assert.Equal(t, 1, row.InProgressStudents)
	assert.Equal(t, 1, row.NotStartedStudents)
	assert.Equal(t, 6, row.TotalAnswers)
	assert.Equal(t, 5, row.TotalCorrectAnswers)
	assert.InDelta(t, 33.33, row.CompletionRate, 0.001)
	assert.InDelta(t, 75.0, row.AverageScore, 0.001)
	assert.InDelta(t, 83.33, row.AccuracyRate, 0.001)
	assert.Equal(t, evalNow, row.LastUpdated)
}

func TestComputeAssignmentVanished(t *testing.T) {
	src := &assignmentStatsSourceStub{assignments: map[string]models.Assignment{}}
	svc := newAssignmentStatsForTest(src, newAssignmentStatsStoreStub())

	err := svc.ComputeAssignment(context.Background(), "a-gone")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEntityComputation.Code))
}

func TestComputeAllAssignmentsIsolatesFailures(t *testing.T) {
	src := &assignmentStatsSourceStub{
		activeIDs: []string{"a1", "a-gone"},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 1, Active: true},
		},
	}
	store := newAssignmentStatsStoreStub()
	svc := newAssignmentStatsForTest(src, store)

	processed, failed, err := svc.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)
	assert.Contains(t, store.rows, "a1")
}

func TestGetAssignmentStatsReadPath(t *testing.T) {
	store := newAssignmentStatsStoreStub()
	store.rows["a1"] = &models.AssignmentStats{AssignmentID: "a1", TotalStudents: 12}
	svc := newAssignmentStatsForTest(&assignmentStatsSourceStub{}, store)

	row, hit, err := svc.GetAssignment(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 12, row.TotalStudents)

	_, _, err = svc.GetAssignment(context.Background(), "a-missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
}
