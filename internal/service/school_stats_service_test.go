package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/retry"
)

type schoolSourceStub struct {
	total, teachers, students      int
	roleErr                        error
	classes                        int
	classErr                       error
	schedule                       models.AssignmentScheduleCounts
	scheduleErr                    error
	rollup                         models.AssignmentStatsRollup
	rollupErr                      error
	activeStudents, activeTeachers int
	activeErr                      error
	unresolved                     int
	unresolvedErr                  error
}

func (s *schoolSourceStub) CountByRole(ctx context.Context) (int, int, int, error) {
	if s.roleErr != nil {
		return 0, 0, 0, s.roleErr
	}
	return s.total, s.teachers, s.students, nil
}

func (s *schoolSourceStub) CountActiveByRoleSince(ctx context.Context, role models.UserRole, since time.Time) (int, error) {
	if s.activeErr != nil {
		return 0, s.activeErr
	}
	if role == models.RoleTeacher {
		return s.activeTeachers, nil
	}
	return s.activeStudents, nil
}

func (s *schoolSourceStub) CountActive(ctx context.Context) (int, error) {
	if s.classErr != nil {
		return 0, s.classErr
	}
	return s.classes, nil
}

func (s *schoolSourceStub) ScheduleCounts(ctx context.Context, now time.Time) (*models.AssignmentScheduleCounts, error) {
	if s.scheduleErr != nil {
		return nil, s.scheduleErr
	}
	counts := s.schedule
	return &counts, nil
}

func (s *schoolSourceStub) Rollup(ctx context.Context) (*models.AssignmentStatsRollup, error) {
	if s.rollupErr != nil {
		return nil, s.rollupErr
	}
	roll := s.rollup
	return &roll, nil
}

func (s *schoolSourceStub) CountUnresolved(ctx context.Context) (int, error) {
	if s.unresolvedErr != nil {
		return 0, s.unresolvedErr
	}
	return s.unresolved, nil
}

type schoolStoreStub struct {
	rows      map[time.Time]*models.SchoolStats
	upsertErr error
}

func newSchoolStoreStub() *schoolStoreStub {
	return &schoolStoreStub{rows: map[time.Time]*models.SchoolStats{}}
}

func (s *schoolStoreStub) Upsert(ctx context.Context, stats *models.SchoolStats) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	clone := *stats
	s.rows[stats.StatDate] = &clone
	return nil
}

func (s *schoolStoreStub) GetByDate(ctx context.Context, date time.Time) (*models.SchoolStats, error) {
	row, ok := s.rows[date]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func (s *schoolStoreStub) ListRange(ctx context.Context, from, to time.Time) ([]models.SchoolStats, error) {
	var out []models.SchoolStats
	for _, row := range s.rows {
		if !row.StatDate.Before(from) && !row.StatDate.After(to) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *schoolStoreStub) Latest(ctx context.Context) (*models.SchoolStats, error) {
	var latest *models.SchoolStats
	for _, row := range s.rows {
		if latest == nil || row.StatDate.After(latest.StatDate) {
			latest = row
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func newSchoolStatsForTest(src *schoolSourceStub, store *schoolStoreStub) *SchoolStatsService {
	svc := NewSchoolStatsService(src, src, src, src, src, store, nil, nil, retry.Policy{MaxAttempts: 1}, time.Minute, zap.NewNop())
	svc.now = func() time.Time { return evalNow }
	return svc
}

func TestSnapshotComposesAllSources(t *testing.T) {
	src := &schoolSourceStub{
		total: 120, teachers: 20, students: 100,
		classes: 8,
		schedule: models.AssignmentScheduleCounts{
			Total: 40, Active: 25, Scheduled: 10, Completed: 5,
		},
		rollup: models.AssignmentStatsRollup{
			Count:                 25,
			AverageCompletionRate: 71.5,
			AverageScore:          64.25,
			TotalQuestions:        400,
			TotalAnswers:          310,
			TotalCorrectAnswers:   250,
		},
		activeStudents: 42, activeTeachers: 9,
		unresolved: 7,
	}
	store := newSchoolStoreStub()
	svc := newSchoolStatsForTest(src, store)

	failures, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failures)

	day := statDate(evalNow)
	row := store.rows[day]
	require.NotNil(t, row)
	assert.Equal(t, day, row.StatDate)
	assert.Equal(t, 120, row.TotalUsers)
	assert.Equal(t, 20, row.TotalTeachers)
	assert.Equal(t, 100, row.TotalStudents)
	assert.Equal(t, 8, row.TotalClasses)
	assert.Equal(t, 40, row.TotalAssignments)
	assert.Equal(t, 25, row.ActiveAssignments)
	assert.Equal(t, 10, row.ScheduledAssignments)
	assert.Equal(t, 5, row.CompletedAssignments)
	assert.InDelta(t, 71.5, row.AverageCompletionRate, 0.001)
	assert.InDelta(t, 64.25, row.AverageScore, 0.001)
	assert.Equal(t, 400, row.TotalQuestions)
	assert.Equal(t, 310, row.TotalAnswers)
	assert.Equal(t, 250, row.TotalCorrectAnswers)
	assert.Equal(t, 42, row.DailyActiveStudents)
	assert.Equal(t, 9, row.DailyActiveTeachers)
	assert.Equal(t, 7, row.StudentsNeedingHelp)
	assert.Equal(t, evalNow, row.LastUpdated)
}

func TestSnapshotDegradesFailingMetric(t *testing.T) {
	src := &schoolSourceStub{
		total: 10, teachers: 2, students: 8,
		classErr:   errors.New("relation classes does not exist"),
		unresolved: 3,
	}
	store := newSchoolStoreStub()
	svc := newSchoolStatsForTest(src, store)

	failures, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failures)

	row := store.rows[statDate(evalNow)]
	require.NotNil(t, row)
	assert.Zero(t, row.TotalClasses)
	assert.Equal(t, 10, row.TotalUsers)
	assert.Equal(t, 3, row.StudentsNeedingHelp)
}

func TestSnapshotUpsertFailure(t *testing.T) {
	store := newSchoolStoreStub()
	store.upsertErr = errors.New("duplicate key value")
	svc := newSchoolStatsForTest(&schoolSourceStub{}, store)

	_, err := svc.Snapshot(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpsertConflict.Code))
}

func TestGetRangeRejectsBadWindows(t *testing.T) {
	svc := newSchoolStatsForTest(&schoolSourceStub{}, newSchoolStoreStub())

	_, _, err := svc.GetRange(context.Background(), evalNow, evalNow.Add(-48*time.Hour))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))

	_, _, err = svc.GetRange(context.Background(), evalNow.Add(-100*24*time.Hour), evalNow)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}

func TestGetRangeReturnsWindow(t *testing.T) {
	store := newSchoolStoreStub()
	for i := 0; i < 3; i++ {
		day := statDate(evalNow.Add(-time.Duration(i) * 24 * time.Hour))
		store.rows[day] = &models.SchoolStats{StatDate: day, TotalStudents: 100 + i}
	}
	svc := newSchoolStatsForTest(&schoolSourceStub{}, store)

	rows, hit, err := svc.GetRange(context.Background(), evalNow.Add(-48*time.Hour), evalNow)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, rows, 3)
}

func TestGetByDateNormalizesToMidnight(t *testing.T) {
	store := newSchoolStoreStub()
	day := statDate(evalNow)
	store.rows[day] = &models.SchoolStats{StatDate: day, TotalStudents: 55}
	svc := newSchoolStatsForTest(&schoolSourceStub{}, store)

	row, hit, err := svc.GetByDate(context.Background(), evalNow)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 55, row.TotalStudents)
}

func TestGetLatestEmpty(t *testing.T) {
	svc := newSchoolStatsForTest(&schoolSourceStub{}, newSchoolStoreStub())
	_, _, err := svc.GetLatest(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
}
