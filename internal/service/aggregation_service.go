package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
)

// statsCachePattern sweeps every materialized stats view after a run; the
// aggregates just changed, so everything keyed under the prefix is stale.
const statsCachePattern = "stats:*"

// connectivityPingTimeout bounds the pre-run reachability probe.
const connectivityPingTimeout = 3 * time.Second

type dataSourcePinger interface {
	PingContext(ctx context.Context) error
}

type batchAggregator interface {
	ComputeAll(ctx context.Context) (processed, failed int, err error)
}

type snapshotTaker interface {
	Snapshot(ctx context.Context) (metricFailures int, err error)
}

type flagEvaluator interface {
	EvaluateAll(ctx context.Context) (FlagCounters, int, error)
}

type runStore interface {
	Create(ctx context.Context, run *models.AggregationRun) error
	Finish(ctx context.Context, run *models.AggregationRun) error
	List(ctx context.Context, limit int) ([]models.AggregationRun, error)
	Latest(ctx context.Context) (*models.AggregationRun, error)
}

// AggregationService drives one full materialization pass: student stats,
// assignment stats, the school snapshot, then help-flag evaluation, in that
// order. The snapshot must follow the aggregators because it averages the
// assignment_stats rows written moments before. Every execution leaves an
// aggregation_runs audit row behind.
type AggregationService struct {
	source      dataSourcePinger
	students    batchAggregator
	assignments batchAggregator
	school      snapshotTaker
	flags       flagEvaluator
	runs        runStore
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewAggregationService wires the pipeline phases together.
func NewAggregationService(source dataSourcePinger, students, assignments batchAggregator, school snapshotTaker, flags flagEvaluator, runs runStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *AggregationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregationService{
		source:      source,
		students:    students,
		assignments: assignments,
		school:      school,
		flags:       flags,
		runs:        runs,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes the pipeline once. The connectivity probe runs before anything
// is written: an unreachable data source aborts with no audit row, since the
// row could not be stored anyway. Phase errors after that point finalize the
// row as FAILED; per-entity skips finalize it as COMPLETED_WITH_ERRORS.
//
// runID preassigns the audit row id so a manual trigger can hand its id back
// before the job executes; empty lets the store mint one.
func (s *AggregationService) Run(ctx context.Context, trigger models.RunTrigger, runID string) (*models.AggregationRun, error) {
	start := s.now()

	pingCtx, cancel := context.WithTimeout(ctx, connectivityPingTimeout)
	err := s.source.PingContext(pingCtx)
	cancel()
	if err != nil {
		s.logger.Error("aggregation aborted, data source unreachable", zap.Error(err))
		s.metrics.RecordAggregationRun(string(trigger), string(models.RunStatusFailed), s.now().Sub(start))
		return nil, appErrors.Wrap(err, appErrors.ErrDataSourceUnavailable.Code, http.StatusServiceUnavailable, "data source unreachable, aggregation aborted")
	}

	run := &models.AggregationRun{
		ID:        runID,
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: start,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		s.metrics.RecordAggregationRun(string(trigger), string(models.RunStatusFailed), s.now().Sub(start))
		return nil, appErrors.Wrap(err, appErrors.ErrDataSourceUnavailable.Code, http.StatusServiceUnavailable, "failed to record aggregation run")
	}
	s.logger.Info("aggregation run started",
		zap.String("run_id", run.ID),
		zap.String("trigger", string(trigger)))

	counters, skipped, runErr := s.executePhases(ctx)

	finished := s.now()
	run.FinishedAt = &finished
	run.StudentsProcessed = counters.StudentsProcessed
	run.StudentsFailed = counters.StudentsFailed
	run.AssignmentsProcessed = counters.AssignmentsProcessed
	run.AssignmentsFailed = counters.AssignmentsFailed
	run.FlagsCreated = counters.FlagsCreated
	run.FlagsUpdated = counters.FlagsUpdated
	run.FlagsResolved = counters.FlagsResolved
	switch {
	case runErr != nil:
		run.Status = models.RunStatusFailed
		msg := runErr.Error()
		run.ErrorMessage = &msg
	case skipped > 0:
		run.Status = models.RunStatusCompletedWithErrors
	default:
		run.Status = models.RunStatusCompleted
	}

	if err := s.runs.Finish(ctx, run); err != nil {
		s.logger.Error("failed to finalize aggregation run",
			zap.String("run_id", run.ID),
			zap.Error(err))
		if runErr == nil {
			runErr = appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to finalize aggregation run")
		}
	}

	duration := finished.Sub(start)
	s.metrics.RecordAggregationRun(string(trigger), string(run.Status), duration)

	if runErr != nil {
		s.logger.Error("aggregation run failed",
			zap.String("run_id", run.ID),
			zap.Duration("duration", duration),
			zap.Error(runErr))
		return run, runErr
	}

	if err := s.cache.Invalidate(ctx, statsCachePattern); err != nil {
		s.logger.Warn("stats cache invalidation failed after aggregation", zap.Error(err))
	}

	s.logger.Info("aggregation run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Duration("duration", duration),
		zap.Int("students_processed", run.StudentsProcessed),
		zap.Int("students_failed", run.StudentsFailed),
		zap.Int("assignments_processed", run.AssignmentsProcessed),
		zap.Int("assignments_failed", run.AssignmentsFailed),
		zap.Int("flags_created", run.FlagsCreated),
		zap.Int("flags_updated", run.FlagsUpdated),
		zap.Int("flags_resolved", run.FlagsResolved))
	return run, nil
}

// executePhases walks the four phases and accumulates counters. Student,
// assignment and flagging phase errors are fatal: those services only error
// when the source itself is failing. A school snapshot error is not, as long
// as the context is still live; the snapshot is one row and the next run
// rewrites it, so flagging still gets its turn.
func (s *AggregationService) executePhases(ctx context.Context) (models.RunCounters, int, error) {
	var counters models.RunCounters
	skipped := 0

	processed, failed, err := s.students.ComputeAll(ctx)
	counters.StudentsProcessed = processed
	counters.StudentsFailed = failed
	skipped += failed
	if err != nil {
		return counters, skipped, err
	}

	processed, failed, err = s.assignments.ComputeAll(ctx)
	counters.AssignmentsProcessed = processed
	counters.AssignmentsFailed = failed
	skipped += failed
	if err != nil {
		return counters, skipped, err
	}

	metricFailures, err := s.school.Snapshot(ctx)
	skipped += metricFailures
	if err != nil {
		if ctx.Err() != nil {
			return counters, skipped, err
		}
		s.logger.Error("school snapshot phase failed, continuing to flagging", zap.Error(err))
		skipped++
	}

	flagCounters, flagSkipped, err := s.flags.EvaluateAll(ctx)
	counters.FlagsCreated = flagCounters.Created
	counters.FlagsUpdated = flagCounters.Updated
	counters.FlagsResolved = flagCounters.Resolved
	skipped += flagSkipped
	if err != nil {
		return counters, skipped, err
	}

	return counters, skipped, nil
}

// History returns recent runs for the admin surface, newest first.
func (s *AggregationService) History(ctx context.Context, limit int) ([]models.AggregationRun, error) {
	runs, err := s.runs.List(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to list aggregation runs")
	}
	if runs == nil {
		runs = []models.AggregationRun{}
	}
	return runs, nil
}

// LatestRun returns the most recently started run.
func (s *AggregationService) LatestRun(ctx context.Context) (*models.AggregationRun, error) {
	run, err := s.runs.Latest(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no aggregation run recorded yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to load latest aggregation run")
	}
	return run, nil
}
