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

type scopeResolver interface {
	AssignmentIDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error)
}

type assignmentCatalogReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Assignment, error)
}

type studentAttemptReader interface {
	ListByStudent(ctx context.Context, studentID string, assignmentIDs []string) ([]models.ProgressAttempt, error)
}

type studentStatsStore interface {
	Upsert(ctx context.Context, stats *models.StudentStats) error
	GetByStudentID(ctx context.Context, studentID string) (*models.StudentStats, error)
}

type studentRosterReader interface {
	ListActiveStudentIDs(ctx context.Context) ([]string, error)
}

// StudentStatsService materializes the per-student aggregates from the raw
// attempt log.
type StudentStatsService struct {
	roster   studentRosterReader
	scope    scopeResolver
	catalog  assignmentCatalogReader
	attempts studentAttemptReader
	store    studentStatsStore
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	workers  int
	retry    retry.Policy
	cacheTTL time.Duration
	now      func() time.Time
}

// NewStudentStatsService constructs the student aggregator.
func NewStudentStatsService(roster studentRosterReader, scope scopeResolver, catalog assignmentCatalogReader, attempts studentAttemptReader, store studentStatsStore, cache *CacheService, metrics *MetricsService, workers int, retryPolicy retry.Policy, cacheTTL time.Duration, logger *zap.Logger) *StudentStatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &StudentStatsService{
		roster:   roster,
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

// ComputeAll aggregates every active student. One student failing is counted
// and skipped; the batch only aborts when the roster itself cannot be listed.
func (s *StudentStatsService) ComputeAll(ctx context.Context) (processed, failed int, err error) {
	ids, err := s.roster.ListActiveStudentIDs(ctx)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrDataSourceUnavailable.Code, appErrors.ErrDataSourceUnavailable.Status, "failed to list students for aggregation")
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
			if err := s.ComputeStudent(gctx, id); err != nil {
				atomic.AddInt64(&skipped, 1)
				s.logger.Warn("student aggregation failed",
					zap.String("student_id", id),
					zap.Error(err))
				if s.metrics != nil {
					s.metrics.RecordEntityFailure("student")
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

// ComputeStudent recomputes and stores one student's aggregate row.
func (s *StudentStatsService) ComputeStudent(ctx context.Context, studentID string) error {
	stats, err := s.buildStats(ctx, studentID)
	if err != nil {
		return err
	}
	if err := verifyStudentInvariants(stats); err != nil {
		s.logger.Error("student stats violate invariants, upsert skipped",
			zap.String("student_id", studentID),
			zap.Int("total", stats.TotalAssignments),
			zap.Int("completed", stats.CompletedAssignments),
			zap.Int("in_progress", stats.InProgressAssignments),
			zap.Float64("completion_rate", stats.CompletionRate),
			zap.Float64("accuracy_rate", stats.AccuracyRate),
			zap.Error(err))
		return err
	}
	if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.Upsert(ctx, stats)
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpsertConflict.Code, appErrors.ErrUpsertConflict.Status, "failed to store student stats")
	}
	return nil
}

func (s *StudentStatsService) buildStats(ctx context.Context, studentID string) (*models.StudentStats, error) {
	assignmentIDs, err := s.scope.AssignmentIDsForStudent(ctx, studentID, true)
	if err != nil {
		return nil, err
	}

	stats := &models.StudentStats{
		StudentID:   studentID,
		LastUpdated: s.now().UTC(),
	}
	if len(assignmentIDs) == 0 {
		return stats, nil
	}

	assignments, err := s.catalog.ListByIDs(ctx, assignmentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to load assignments for student")
	}
	attempts, err := s.attempts.ListByStudent(ctx, studentID, assignmentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to load attempts for student")
	}

	grouped := groupByAssignment(attempts)
	var scores []float64
	for _, assignment := range assignments {
		answered, correct := reduceQuestions(grouped[assignment.ID])
		stats.TotalAssignments++
		stats.TotalQuestions += assignment.QuestionCount
		stats.TotalAnswers += answered
		stats.TotalCorrectAnswers += correct
		switch progressState(answered, assignment.QuestionCount) {
		case models.ProgressCompleted:
			stats.CompletedAssignments++
			scores = append(scores, percentage(correct, assignment.QuestionCount))
		case models.ProgressInProgress:
			stats.InProgressAssignments++
		}
	}

	stats.AverageScore = meanRate(scores)
	stats.AccuracyRate = percentage(stats.TotalCorrectAnswers, stats.TotalAnswers)
	stats.CompletionRate = percentage(stats.CompletedAssignments, stats.TotalAssignments)
	return stats, nil
}

// GetStudent serves the stored aggregate row, cache first. The boolean
// reports a cache hit.
func (s *StudentStatsService) GetStudent(ctx context.Context, studentID string) (*models.StudentStats, bool, error) {
	cacheKey := makeStatsCacheKey("student", studentID)
	var cached models.StudentStats
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get student stats cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	start := time.Now()
	stats, err := s.store.GetByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "no statistics recorded for this student yet")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student stats")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("student_stats_get", time.Since(start))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.cacheTTL); err != nil {
			s.logger.Warn("cache student stats", zap.Error(err))
		}
	}
	return stats, false, nil
}

func verifyStudentInvariants(stats *models.StudentStats) error {
	if stats.CompletedAssignments+stats.InProgressAssignments > stats.TotalAssignments {
		return appErrors.Clone(appErrors.ErrInvariantViolation, "completed plus in-progress exceeds total assignments")
	}
	for _, rate := range []float64{stats.CompletionRate, stats.AccuracyRate, stats.AverageScore} {
		if rate < 0 || rate > 100 {
			return appErrors.Clone(appErrors.ErrInvariantViolation, "rate outside [0,100]")
		}
	}
	return nil
}
