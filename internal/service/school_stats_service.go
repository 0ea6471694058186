package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/retry"
)

// maxSnapshotRangeDays caps history queries so a single request cannot sweep
// the whole table.
const maxSnapshotRangeDays = 92

type directoryCounter interface {
	CountByRole(ctx context.Context) (total, teachers, students int, err error)
	CountActiveByRoleSince(ctx context.Context, role models.UserRole, since time.Time) (int, error)
}

type classCounter interface {
	CountActive(ctx context.Context) (int, error)
}

type scheduleCounter interface {
	ScheduleCounts(ctx context.Context, now time.Time) (*models.AssignmentScheduleCounts, error)
}

type statsRollupReader interface {
	Rollup(ctx context.Context) (*models.AssignmentStatsRollup, error)
}

type helpFlagCounter interface {
	CountUnresolved(ctx context.Context) (int, error)
}

type schoolStatsStore interface {
	Upsert(ctx context.Context, stats *models.SchoolStats) error
	GetByDate(ctx context.Context, date time.Time) (*models.SchoolStats, error)
	ListRange(ctx context.Context, from, to time.Time) ([]models.SchoolStats, error)
	Latest(ctx context.Context) (*models.SchoolStats, error)
}

// SchoolStatsService materializes the dated school-wide snapshot. Individual
// metric sources degrade to zero on failure so one broken query cannot sink
// the whole snapshot; only storing the row is fatal to the phase.
type SchoolStatsService struct {
	users    directoryCounter
	classes  classCounter
	schedule scheduleCounter
	rollup   statsRollupReader
	flags    helpFlagCounter
	store    schoolStatsStore
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	retry    retry.Policy
	cacheTTL time.Duration
	now      func() time.Time
}

// NewSchoolStatsService constructs the school snapshot aggregator.
func NewSchoolStatsService(users directoryCounter, classes classCounter, schedule scheduleCounter, rollup statsRollupReader, flags helpFlagCounter, store schoolStatsStore, cache *CacheService, metrics *MetricsService, retryPolicy retry.Policy, cacheTTL time.Duration, logger *zap.Logger) *SchoolStatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolStatsService{
		users:    users,
		classes:  classes,
		schedule: schedule,
		rollup:   rollup,
		flags:    flags,
		store:    store,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		retry:    retryPolicy,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Snapshot recomputes today's school_stats row and upserts it under the UTC
// calendar date. It returns how many metric sources had to fall back to zero.
func (s *SchoolStatsService) Snapshot(ctx context.Context) (metricFailures int, err error) {
	now := s.now().UTC()
	stats := &models.SchoolStats{
		StatDate:    statDate(now),
		LastUpdated: now,
	}
	degrade := func(metric string, err error) {
		metricFailures++
		s.logger.Warn("school snapshot metric failed, recording zero",
			zap.String("metric", metric),
			zap.Error(err))
	}

	if total, teachers, students, err := s.users.CountByRole(ctx); err != nil {
		degrade("user_counts", err)
	} else {
		stats.TotalUsers = total
		stats.TotalTeachers = teachers
		stats.TotalStudents = students
	}

	if classes, err := s.classes.CountActive(ctx); err != nil {
		degrade("class_count", err)
	} else {
		stats.TotalClasses = classes
	}

	if counts, err := s.schedule.ScheduleCounts(ctx, now); err != nil {
		degrade("assignment_schedule", err)
	} else {
		stats.TotalAssignments = counts.Total
		stats.ActiveAssignments = counts.Active
		stats.ScheduledAssignments = counts.Scheduled
		stats.CompletedAssignments = counts.Completed
	}

	if roll, err := s.rollup.Rollup(ctx); err != nil {
		degrade("assignment_rollup", err)
	} else {
		stats.AverageCompletionRate = clampRate(roll.AverageCompletionRate)
		stats.AverageScore = clampRate(roll.AverageScore)
		stats.TotalQuestions = roll.TotalQuestions
		stats.TotalAnswers = roll.TotalAnswers
		stats.TotalCorrectAnswers = roll.TotalCorrectAnswers
		s.logger.Debug("assignment rollup applied", zap.Int("assignment_rows", roll.Count))
	}

	activeSince := now.Add(-24 * time.Hour)
	if active, err := s.users.CountActiveByRoleSince(ctx, models.RoleStudent, activeSince); err != nil {
		degrade("daily_active_students", err)
	} else {
		stats.DailyActiveStudents = active
	}
	if active, err := s.users.CountActiveByRoleSince(ctx, models.RoleTeacher, activeSince); err != nil {
		degrade("daily_active_teachers", err)
	} else {
		stats.DailyActiveTeachers = active
	}

	if open, err := s.flags.CountUnresolved(ctx); err != nil {
		degrade("students_needing_help", err)
	} else {
		stats.StudentsNeedingHelp = open
	}

	if err := ctx.Err(); err != nil {
		return metricFailures, err
	}
	if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.Upsert(ctx, stats)
	}); err != nil {
		return metricFailures, appErrors.Wrap(err, appErrors.ErrUpsertConflict.Code, appErrors.ErrUpsertConflict.Status, "failed to store school snapshot")
	}
	return metricFailures, nil
}

// GetByDate serves the snapshot stored for one UTC calendar date.
func (s *SchoolStatsService) GetByDate(ctx context.Context, date time.Time) (*models.SchoolStats, bool, error) {
	day := statDate(date)
	cacheKey := makeStatsCacheKey("school", day.Format("2006-01-02"))
	var cached models.SchoolStats
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get school stats cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	start := time.Now()
	stats, err := s.store.GetByDate(ctx, day)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "no school snapshot recorded for this date")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school snapshot")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("school_stats_get", time.Since(start))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.cacheTTL); err != nil {
			s.logger.Warn("cache school snapshot", zap.Error(err))
		}
	}
	return stats, false, nil
}

// GetRange serves the snapshots between two UTC dates inclusive, oldest
// first. An empty window yields an empty slice, not an error.
func (s *SchoolStatsService) GetRange(ctx context.Context, from, to time.Time) ([]models.SchoolStats, bool, error) {
	fromDay, toDay := statDate(from), statDate(to)
	if fromDay.After(toDay) {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "from date must not be after to date")
	}
	if toDay.Sub(fromDay) > maxSnapshotRangeDays*24*time.Hour {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date range limited to %d days", maxSnapshotRangeDays))
	}

	cacheKey := makeStatsCacheKey("school", "range", fromDay.Format("2006-01-02"), toDay.Format("2006-01-02"))
	var cached []models.SchoolStats
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get school stats range cache: %w", err)
		} else if hit {
			return cached, true, nil
		}
	}

	start := time.Now()
	items, err := s.store.ListRange(ctx, fromDay, toDay)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school snapshot range")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("school_stats_range", time.Since(start))
	}
	if items == nil {
		items = []models.SchoolStats{}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, items, s.cacheTTL); err != nil {
			s.logger.Warn("cache school snapshot range", zap.Error(err))
		}
	}
	return items, false, nil
}

// GetLatest serves the most recent snapshot regardless of date.
func (s *SchoolStatsService) GetLatest(ctx context.Context) (*models.SchoolStats, bool, error) {
	cacheKey := makeStatsCacheKey("school", "latest")
	var cached models.SchoolStats
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get latest school stats cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	start := time.Now()
	stats, err := s.store.Latest(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "no school snapshot recorded yet")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest school snapshot")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("school_stats_latest", time.Since(start))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.cacheTTL); err != nil {
			s.logger.Warn("cache latest school snapshot", zap.Error(err))
		}
	}
	return stats, false, nil
}

// statDate truncates a moment to its UTC calendar date.
func statDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
