package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
)

type progressScopeReader interface {
	AssignmentIDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error)
	StudentIDsForAssignment(ctx context.Context, assignmentID string) ([]string, error)
}

type progressCatalogReader interface {
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Assignment, error)
}

type progressAttemptReader interface {
	ListByStudent(ctx context.Context, studentID string, assignmentIDs []string) ([]models.ProgressAttempt, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.ProgressAttempt, error)
}

type progressDirectoryReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

// ProgressService serves the live drill-down views. It recomputes from the
// raw attempt log on every call instead of reading the materialized rows:
// fresher, at the cost of heavier queries.
type ProgressService struct {
	scope    progressScopeReader
	catalog  progressCatalogReader
	attempts progressAttemptReader
	users    progressDirectoryReader
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewProgressService constructs the live progress reader.
func NewProgressService(scope progressScopeReader, catalog progressCatalogReader, attempts progressAttemptReader, users progressDirectoryReader, metrics *MetricsService, logger *zap.Logger) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		scope:    scope,
		catalog:  catalog,
		attempts: attempts,
		users:    users,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// AssignmentProgress returns the per-student live breakdown for one
// assignment. Students with no attempts appear as not started.
func (s *ProgressService) AssignmentProgress(ctx context.Context, assignmentID string) (*models.AssignmentProgress, error) {
	start := time.Now()
	assignment, err := s.catalog.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	studentIDs, err := s.scope.StudentIDsForAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve assignment roster")
	}
	attempts, err := s.attempts.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempts")
	}
	names, err := s.users.NamesByIDs(ctx, studentIDs)
	if err != nil {
		s.logger.Warn("student names unavailable for progress view", zap.Error(err))
		names = map[string]string{}
	}

	view := &models.AssignmentProgress{
		AssignmentID:  assignment.ID,
		Title:         assignment.Title,
		QuestionCount: assignment.QuestionCount,
		TotalStudents: len(studentIDs),
		Students:      make([]models.StudentProgressEntry, 0, len(studentIDs)),
		GeneratedAt:   s.now().UTC(),
	}

	grouped := groupByStudent(attempts)
	for _, studentID := range studentIDs {
		answered, correct := reduceQuestions(grouped[studentID])
		entry := models.StudentProgressEntry{
			StudentID:         studentID,
			FullName:          names[studentID],
			AnsweredQuestions: answered,
			CorrectAnswers:    correct,
			Status:            progressState(answered, assignment.QuestionCount),
		}
		switch entry.Status {
		case models.ProgressCompleted:
			score := percentage(correct, assignment.QuestionCount)
			entry.ScorePercent = &score
			view.CompletedStudents++
		case models.ProgressInProgress:
			view.InProgressStudents++
		default:
			view.NotStartedStudents++
		}
		view.Students = append(view.Students, entry)
	}

	if s.metrics != nil {
		s.metrics.ObserveDBQuery("assignment_progress_live", time.Since(start))
	}
	return view, nil
}

// StudentBreakdown returns the per-assignment live rows for one student,
// including due state for each active in-scope assignment.
func (s *ProgressService) StudentBreakdown(ctx context.Context, studentID string) ([]models.StudentAssignmentBreakdown, error) {
	start := time.Now()
	user, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if user.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	ids, err := s.scope.AssignmentIDsForStudent(ctx, studentID, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student scope")
	}
	breakdown := make([]models.StudentAssignmentBreakdown, 0, len(ids))
	if len(ids) == 0 {
		return breakdown, nil
	}
	assignments, err := s.catalog.ListByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}
	attempts, err := s.attempts.ListByStudent(ctx, studentID, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempts")
	}

	now := s.now().UTC()
	grouped := groupByAssignment(attempts)
	for _, assignment := range assignments {
		answered, correct := reduceQuestions(grouped[assignment.ID])
		row := models.StudentAssignmentBreakdown{
			AssignmentID:      assignment.ID,
			Title:             assignment.Title,
			QuestionCount:     assignment.QuestionCount,
			AnsweredQuestions: answered,
			CorrectAnswers:    correct,
			Status:            progressState(answered, assignment.QuestionCount),
			DueAt:             assignment.DueAt,
		}
		if row.Status == models.ProgressCompleted {
			score := percentage(correct, assignment.QuestionCount)
			row.ScorePercent = &score
		} else if assignment.DueAt != nil && assignment.DueAt.Before(now) {
			row.Overdue = true
		}
		breakdown = append(breakdown, row)
	}

	if s.metrics != nil {
		s.metrics.ObserveDBQuery("student_breakdown_live", time.Since(start))
	}
	return breakdown, nil
}
