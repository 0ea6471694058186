package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lingora-app/insight-api/internal/models"
	"github.com/lingora-app/insight-api/pkg/config"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/retry"
)

const (
	maxTeacherNotesLen = 2000

	// resolvedBySystem marks auto-resolutions performed by the evaluation
	// sweep, as opposed to a named collaborator.
	resolvedBySystem = "system"

	dashboardCachePattern = "stats:dashboard*"
)

// flagTransition reports what one evaluation did to a student's flag state.
type flagTransition int

const (
	flagNone flagTransition = iota
	flagCreated
	flagUpdated
	flagResolved
)

// FlagCounters tallies the lifecycle transitions of one evaluation sweep.
type FlagCounters struct {
	Created  int
	Updated  int
	Resolved int
}

type helpScopeResolver interface {
	AssignmentIDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error)
	ClassContextForStudent(ctx context.Context, studentID string) (*models.ClassContext, error)
}

type helpRosterReader interface {
	ListActiveStudentIDs(ctx context.Context) ([]string, error)
}

type helpCatalogReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Assignment, error)
}

type helpAttemptReader interface {
	ListByStudent(ctx context.Context, studentID string, assignmentIDs []string) ([]models.ProgressAttempt, error)
}

type helpFlagStore interface {
	GetByID(ctx context.Context, id string) (*models.NeedsHelpRecord, error)
	GetUnresolvedByStudent(ctx context.Context, studentID string) (*models.NeedsHelpRecord, error)
	Create(ctx context.Context, record *models.NeedsHelpRecord) error
	UpdateEvaluation(ctx context.Context, record *models.NeedsHelpRecord) error
	Resolve(ctx context.Context, id, resolvedBy string, at time.Time) error
	UpdateNotes(ctx context.Context, id, notes string, at time.Time) error
	List(ctx context.Context, filter models.NeedsHelpFilter) ([]models.NeedsHelpRecord, int, error)
	CountUnresolved(ctx context.Context) (int, error)
}

// helpEvaluation carries the freshly recomputed inputs to the flag predicate.
// Values come straight from the raw log and scope, never from the
// materialized student_stats row.
type helpEvaluation struct {
	totalAssignments   int
	completionRate     float64
	averageScore       float64
	totalAnswers       int
	overdueAssignments int
}

// NeedsHelpService runs the flagging state machine and owns the collaborator
// write paths on flag records.
type NeedsHelpService struct {
	roster     helpRosterReader
	scope      helpScopeResolver
	catalog    helpCatalogReader
	attempts   helpAttemptReader
	flags      helpFlagStore
	cache      *CacheService
	metrics    *MetricsService
	logger     *zap.Logger
	thresholds config.ThresholdConfig
	workers    int
	retry      retry.Policy
	now        func() time.Time
}

// NewNeedsHelpService constructs the flagging engine.
func NewNeedsHelpService(roster helpRosterReader, scope helpScopeResolver, catalog helpCatalogReader, attempts helpAttemptReader, flags helpFlagStore, cache *CacheService, metrics *MetricsService, thresholds config.ThresholdConfig, workers int, retryPolicy retry.Policy, logger *zap.Logger) *NeedsHelpService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &NeedsHelpService{
		roster:     roster,
		scope:      scope,
		catalog:    catalog,
		attempts:   attempts,
		flags:      flags,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
		thresholds: thresholds,
		workers:    workers,
		retry:      retryPolicy,
		now:        time.Now,
	}
}

// EvaluateAll sweeps every active student through the state machine. Students
// that fail to evaluate are skipped and counted, never aborting the sweep.
func (s *NeedsHelpService) EvaluateAll(ctx context.Context) (FlagCounters, int, error) {
	studentIDs, err := s.roster.ListActiveStudentIDs(ctx)
	if err != nil {
		return FlagCounters{}, 0, appErrors.Wrap(err, appErrors.ErrDataSourceUnavailable.Code, appErrors.ErrDataSourceUnavailable.Status, "failed to list students for flag evaluation")
	}

	var created, updated, resolved, skipped int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range studentIDs {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			transition, err := s.EvaluateStudent(gctx, id)
			if err != nil {
				atomic.AddInt64(&skipped, 1)
				s.logger.Warn("flag evaluation failed",
					zap.String("student_id", id),
					zap.Error(err))
				if s.metrics != nil {
					s.metrics.RecordEntityFailure("flagging")
				}
				return nil
			}
			switch transition {
			case flagCreated:
				atomic.AddInt64(&created, 1)
			case flagUpdated:
				atomic.AddInt64(&updated, 1)
			case flagResolved:
				atomic.AddInt64(&resolved, 1)
			}
			return nil
		})
	}
	counters := func() FlagCounters {
		return FlagCounters{
			Created:  int(atomic.LoadInt64(&created)),
			Updated:  int(atomic.LoadInt64(&updated)),
			Resolved: int(atomic.LoadInt64(&resolved)),
		}
	}
	if err := g.Wait(); err != nil {
		return counters(), int(atomic.LoadInt64(&skipped)), err
	}

	result := counters()
	if s.metrics != nil {
		s.metrics.RecordFlagTransitions(result.Created, result.Updated, result.Resolved)
		if open, err := s.flags.CountUnresolved(ctx); err == nil {
			s.metrics.SetUnresolvedFlags(open)
		}
	}
	return result, int(atomic.LoadInt64(&skipped)), nil
}

// EvaluateStudent recomputes one student's standing and applies the flag
// transition it implies.
func (s *NeedsHelpService) EvaluateStudent(ctx context.Context, studentID string) (flagTransition, error) {
	now := s.now().UTC()
	eval, err := s.computeInputs(ctx, studentID, now)
	if err != nil {
		return flagNone, err
	}
	reasons := s.reasonsFor(eval)
	shouldFlag := eval.totalAssignments > 0 && len(reasons) > 0

	open, err := s.flags.GetUnresolvedByStudent(ctx, studentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return flagNone, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to load open flag record")
	}
	hasOpen := err == nil

	switch {
	case !hasOpen && !shouldFlag:
		return flagNone, nil

	case !hasOpen:
		classes, teachers, err := s.classContext(ctx, studentID)
		if err != nil {
			return flagNone, err
		}
		record := &models.NeedsHelpRecord{
			StudentID:          studentID,
			Reasons:            reasons,
			NeedsHelpSince:     now,
			DaysNeedingHelp:    1,
			Severity:           models.SeverityRecent,
			AverageScore:       eval.averageScore,
			CompletionRate:     eval.completionRate,
			OverdueAssignments: eval.overdueAssignments,
			AssociatedClasses:  classes,
			AssociatedTeachers: teachers,
		}
		if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
			return s.flags.Create(ctx, record)
		}); err != nil {
			return flagNone, appErrors.Wrap(err, appErrors.ErrUpsertConflict.Code, appErrors.ErrUpsertConflict.Status, "failed to create flag record")
		}
		return flagCreated, nil

	case shouldFlag:
		classes, teachers, err := s.classContext(ctx, studentID)
		if err != nil {
			return flagNone, err
		}
		days := daysSince(open.NeedsHelpSince, now)
		open.Reasons = reasons
		open.DaysNeedingHelp = days
		open.Severity = severityForDays(days, s.thresholds.WarningDays, s.thresholds.CriticalDays)
		open.AverageScore = eval.averageScore
		open.CompletionRate = eval.completionRate
		open.OverdueAssignments = eval.overdueAssignments
		open.AssociatedClasses = classes
		open.AssociatedTeachers = teachers
		if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
			return s.flags.UpdateEvaluation(ctx, open)
		}); err != nil {
			return flagNone, appErrors.Wrap(err, appErrors.ErrUpsertConflict.Code, appErrors.ErrUpsertConflict.Status, "failed to refresh flag record")
		}
		return flagUpdated, nil

	default:
		if err := s.flags.Resolve(ctx, open.ID, resolvedBySystem, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Lost a race with a manual resolution, nothing left to do.
				return flagNone, nil
			}
			return flagNone, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to auto-resolve flag record")
		}
		return flagResolved, nil
	}
}

func (s *NeedsHelpService) computeInputs(ctx context.Context, studentID string, now time.Time) (helpEvaluation, error) {
	var eval helpEvaluation
	ids, err := s.scope.AssignmentIDsForStudent(ctx, studentID, true)
	if err != nil {
		return eval, err
	}
	if len(ids) == 0 {
		return eval, nil
	}
	assignments, err := s.catalog.ListByIDs(ctx, ids)
	if err != nil {
		return eval, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to load assignments for flag evaluation")
	}
	attempts, err := s.attempts.ListByStudent(ctx, studentID, ids)
	if err != nil {
		return eval, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to load attempts for flag evaluation")
	}

	grouped := groupByAssignment(attempts)
	var completed int
	var scores []float64
	for _, assignment := range assignments {
		answered, correct := reduceQuestions(grouped[assignment.ID])
		eval.totalAnswers += answered
		if progressState(answered, assignment.QuestionCount) == models.ProgressCompleted {
			completed++
			scores = append(scores, percentage(correct, assignment.QuestionCount))
		} else if assignment.DueAt != nil && assignment.DueAt.Before(now) {
			eval.overdueAssignments++
		}
	}
	eval.totalAssignments = len(assignments)
	eval.completionRate = percentage(completed, len(assignments))
	eval.averageScore = meanRate(scores)
	return eval, nil
}

// reasonsFor returns one code per predicate sub-condition that holds, in
// stable order.
func (s *NeedsHelpService) reasonsFor(eval helpEvaluation) pq.StringArray {
	var reasons pq.StringArray
	if eval.completionRate < s.thresholds.CompletionRateMin {
		reasons = append(reasons, string(models.ReasonLowCompletion))
	}
	if eval.averageScore < s.thresholds.AverageScoreMin && eval.totalAnswers > 0 {
		reasons = append(reasons, string(models.ReasonLowScore))
	}
	if eval.overdueAssignments > 0 {
		reasons = append(reasons, string(models.ReasonOverdueAssignments))
	}
	return reasons
}

func (s *NeedsHelpService) classContext(ctx context.Context, studentID string) (classes, teachers pq.StringArray, err error) {
	cc, err := s.scope.ClassContextForStudent(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	return toStringArray(cc.ClassIDs), toStringArray(cc.TeacherIDs), nil
}

// List returns flag records for the roster endpoints, unresolved by default.
func (s *NeedsHelpService) List(ctx context.Context, filter models.NeedsHelpFilter) ([]models.NeedsHelpRecord, int, error) {
	switch filter.Severity {
	case "", models.SeverityRecent, models.SeverityWarning, models.SeverityCritical:
	default:
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "unknown severity filter")
	}
	records, total, err := s.flags.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list needs-help records")
	}
	if records == nil {
		records = []models.NeedsHelpRecord{}
	}
	return records, total, nil
}

// UpdateNotes replaces the collaborator-owned teacher notes. Notes stay
// editable on resolved records; the post-resolution freeze covers the
// pipeline-owned fields only.
func (s *NeedsHelpService) UpdateNotes(ctx context.Context, id, notes string) (*models.NeedsHelpRecord, error) {
	trimmed := strings.TrimSpace(notes)
	if trimmed == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher notes must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxTeacherNotesLen {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("teacher notes exceed %d characters", maxTeacherNotesLen))
	}
	if err := s.flags.UpdateNotes(ctx, id, trimmed, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "needs-help record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update teacher notes")
	}
	record, err := s.flags.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload needs-help record")
	}
	_ = s.cache.Invalidate(ctx, dashboardCachePattern)
	return record, nil
}

// Resolve closes a record on behalf of a named collaborator. Already-resolved
// records conflict rather than silently succeed.
func (s *NeedsHelpService) Resolve(ctx context.Context, id, resolvedBy string) (*models.NeedsHelpRecord, error) {
	actor := strings.TrimSpace(resolvedBy)
	if actor == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resolvedBy must not be empty")
	}
	record, err := s.flags.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "needs-help record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load needs-help record")
	}
	if record.Resolved {
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "needs-help record is already resolved")
	}
	now := s.now().UTC()
	if err := s.flags.Resolve(ctx, id, actor, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "needs-help record is already resolved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve needs-help record")
	}
	record.Resolved = true
	record.ResolvedAt = &now
	record.ResolvedBy = &actor
	record.UpdatedAt = now
	if s.metrics != nil {
		if open, err := s.flags.CountUnresolved(ctx); err == nil {
			s.metrics.SetUnresolvedFlags(open)
		}
	}
	_ = s.cache.Invalidate(ctx, dashboardCachePattern)
	return record, nil
}

// toStringArray keeps empty contexts as empty arrays rather than NULLs.
func toStringArray(values []string) pq.StringArray {
	if len(values) == 0 {
		return pq.StringArray{}
	}
	return pq.StringArray(values)
}
