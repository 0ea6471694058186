package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/retry"
)

type studentScopeResolver interface {
	StudentIDsForAssignment(ctx context.Context, assignmentID string) ([]string, error)
}

type assignmentReader interface {
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
}

type assignmentAttemptReader interface {
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.ProgressAttempt, error)
}

type assignmentStatsStore interface {
	Upsert(ctx context.Context, stats *models.AssignmentStats) error
	GetByAssignmentID(ctx context.Context, assignmentID string) (*models.AssignmentStats, error)
}

// AssignmentStatsService materializes the per-assignment aggregates.
type AssignmentStatsService struct {
	scope    studentScopeResolver
	catalog  assignmentReader
	attempts assignmentAttemptReader
	store    assignmentStatsStore
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	workers  int
	retry    retry.Policy
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAssignmentStatsService constructs the assignment aggregator.
func NewAssignmentStatsService(scope studentScopeResolver, catalog assignmentReader, attempts assignmentAttemptReader, store assignmentStatsStore, cache *CacheService, metrics *MetricsService, workers int, retryPolicy retry.Policy, cacheTTL time.Duration, logger *zap.Logger) *AssignmentStatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &AssignmentStatsService{
		scope:    scope,
		catalog:  catalog,
		attempts: attempts,
		store:    store,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		workers:  workers,
		retry:    retryPolicy,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// ComputeAll aggregates every active assignment with the same isolation rules
// as the student phase.
func (s *AssignmentStatsService) ComputeAll(ctx context.Context) (processed, failed int, err error) {
	ids, err := s.catalog.ListActiveIDs(ctx)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrDataSourceUnavailable.Code, appErrors.ErrDataSourceUnavailable.Status, "failed to list assignments for aggregation")
	}

	var done, skipped int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := s.ComputeAssignment(gctx, id); err != nil {
				atomic.AddInt64(&skipped, 1)
				s.logger.Warn("assignment aggregation failed",
					zap.String("assignment_id", id),
					zap.Error(err))
				if s.metrics != nil {
					s.metrics.RecordEntityFailure("assignment")
				}
				return nil
			}
			atomic.AddInt64(&done, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&done)), int(atomic.LoadInt64(&skipped)), err
	}
	return int(atomic.LoadInt64(&done)), int(atomic.LoadInt64(&skipped)), nil
}

// ComputeAssignment recomputes and stores one assignment's aggregate row.
func (s *AssignmentStatsService) ComputeAssignment(ctx context.Context, assignmentID string) error {
	stats, err := s.buildStats(ctx, assignmentID)
	if err != nil {
		return err
	}
	if err := verifyAssignmentInvariants(stats); err != nil {
		s.logger.Error("assignment stats violate invariants, upsert skipped",
			zap.String("assignment_id", assignmentID),
			zap.Int("total_students", stats.TotalStudents),
			zap.Int("completed", stats.CompletedStudents),
			zap.Int("in_progress", stats.InProgressStudents),
			zap.Float64("completion_rate", stats.CompletionRate),
			zap.Float64("accuracy_rate", stats.AccuracyRate),
			zap.Error(err))
		return err
	}
	if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.Upsert(ctx, stats)
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpsertConflict.Code, appErrors.ErrUpsertConflict.Status, "failed to store assignment stats")
	}
	return nil
}

func (s *AssignmentStatsService) buildStats(ctx context.Context, assignmentID string) (*models.AssignmentStats, error) {
	assignment, err := s.catalog.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrEntityComputation, "assignment vanished during aggregation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to load assignment")
	}
	studentIDs, err := s.scope.StudentIDsForAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to load attempts for assignment")
	}

	stats := &models.AssignmentStats{
		AssignmentID:   assignmentID,
		TotalStudents:  len(studentIDs),
		TotalQuestions: assignment.QuestionCount,
		LastUpdated:    s.now().UTC(),
	}

	grouped := groupByStudent(attempts)
	var scores []float64
	for _, studentID := range studentIDs {
		answered, correct := reduceQuestions(grouped[studentID])
		stats.TotalAnswers += answered
		stats.TotalCorrectAnswers += correct
		switch progressState(answered, assignment.QuestionCount) {
		case models.ProgressCompleted:
			stats.CompletedStudents++
			scores = append(scores, percentage(correct, assignment.QuestionCount))
		case models.ProgressInProgress:
			stats.InProgressStudents++
		}
	}
	stats.NotStartedStudents = stats.TotalStudents - stats.CompletedStudents - stats.InProgressStudents
	stats.CompletionRate = percentage(stats.CompletedStudents, stats.TotalStudents)
	stats.AverageScore = meanRate(scores)
	stats.AccuracyRate = percentage(stats.TotalCorrectAnswers, stats.TotalAnswers)
	return stats, nil
}

// GetAssignment serves the stored aggregate row, cache first. The boolean
// reports a cache hit.
func (s *AssignmentStatsService) GetAssignment(ctx context.Context, assignmentID string) (*models.AssignmentStats, bool, error) {
	cacheKey := makeStatsCacheKey("assignment", assignmentID)
	var cached models.AssignmentStats
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get assignment stats cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	start := time.Now()
	stats, err := s.store.GetByAssignmentID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "no statistics recorded for this assignment yet")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment stats")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("assignment_stats_get", time.Since(start))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.cacheTTL); err != nil {
			s.logger.Warn("cache assignment stats", zap.Error(err))
		}
	}
	return stats, false, nil
}

func verifyAssignmentInvariants(stats *models.AssignmentStats) error {
	if stats.CompletedStudents+stats.InProgressStudents > stats.TotalStudents {
		return appErrors.Clone(appErrors.ErrInvariantViolation, "completed plus in-progress exceeds total students")
	}
	if stats.NotStartedStudents < 0 {
		return appErrors.Clone(appErrors.ErrInvariantViolation, "negative not-started count")
	}
	for _, rate := range []float64{stats.CompletionRate, stats.AccuracyRate, stats.AverageScore} {
		if rate < 0 || rate > 100 {
			return appErrors.Clone(appErrors.ErrInvariantViolation, "rate outside [0,100]")
		}
	}
	return nil
}
