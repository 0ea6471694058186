package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
)

type assignmentLinkReader interface {
	IDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error)
	StudentIDsForAssignment(ctx context.Context, assignmentID string) ([]string, error)
}

type classContextReader interface {
	ContextForStudent(ctx context.Context, studentID string) (*models.ClassContext, error)
}

// ScopeService resolves which assignments reach a student and which students
// an assignment reaches. Assignments arrive through two channels, class
// distribution and individual links, and the union is deduplicated so
// overlapping channels never double count.
type ScopeService struct {
	links   assignmentLinkReader
	classes classContextReader
	logger  *zap.Logger
}

// NewScopeService constructs the scope resolver.
func NewScopeService(links assignmentLinkReader, classes classContextReader, logger *zap.Logger) *ScopeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScopeService{links: links, classes: classes, logger: logger}
}

// AssignmentIDsForStudent returns the deduplicated assignment scope for one
// student. activeOnly restricts to active assignments, the population used by
// every student-facing calculation.
func (s *ScopeService) AssignmentIDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error) {
	ids, err := s.links.IDsForStudent(ctx, studentID, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to resolve assignment scope")
	}
	return ids, nil
}

// StudentIDsForAssignment returns the deduplicated student scope for one
// assignment.
func (s *ScopeService) StudentIDsForAssignment(ctx context.Context, assignmentID string) ([]string, error) {
	ids, err := s.links.StudentIDsForAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to resolve student scope")
	}
	return ids, nil
}

// ClassContextForStudent returns the classes the student belongs to and their
// teachers, for scoped flag visibility.
func (s *ScopeService) ClassContextForStudent(ctx context.Context, studentID string) (*models.ClassContext, error) {
	cc, err := s.classes.ContextForStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrEntityComputation.Code, appErrors.ErrEntityComputation.Status, "failed to resolve class context")
	}
	return cc, nil
}
