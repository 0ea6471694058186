package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	"github.com/lingora-app/insight-api/pkg/config"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
	"github.com/lingora-app/insight-api/pkg/retry"
)

var evalNow = time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

type helpSourceStub struct {
	students    []string
	scope       map[string][]string
	scopeErr    map[string]error
	contexts    map[string]*models.ClassContext
	assignments map[string]models.Assignment
	attempts    map[string][]models.ProgressAttempt
}

func (h *helpSourceStub) ListActiveStudentIDs(ctx context.Context) ([]string, error) {
	return h.students, nil
}

func (h *helpSourceStub) AssignmentIDsForStudent(ctx context.Context, studentID string, activeOnly bool) ([]string, error) {
	if err := h.scopeErr[studentID]; err != nil {
		return nil, err
	}
	return h.scope[studentID], nil
}

func (h *helpSourceStub) ClassContextForStudent(ctx context.Context, studentID string) (*models.ClassContext, error) {
	if cc, ok := h.contexts[studentID]; ok {
		return cc, nil
	}
	return &models.ClassContext{}, nil
}

func (h *helpSourceStub) ListByIDs(ctx context.Context, ids []string) ([]models.Assignment, error) {
	var out []models.Assignment
	for _, id := range ids {
		if a, ok := h.assignments[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (h *helpSourceStub) ListByStudent(ctx context.Context, studentID string, assignmentIDs []string) ([]models.ProgressAttempt, error) {
	return h.attempts[studentID], nil
}

type flagStoreStub struct {
	mu      sync.Mutex
	records map[string]*models.NeedsHelpRecord
	seq     int
}

func newFlagStoreStub() *flagStoreStub {
	return &flagStoreStub{records: map[string]*models.NeedsHelpRecord{}}
}

func (s *flagStoreStub) GetByID(ctx context.Context, id string) (*models.NeedsHelpRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rec, nil
}

func (s *flagStoreStub) GetUnresolvedByStudent(ctx context.Context, studentID string) (*models.NeedsHelpRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.StudentID == studentID && !rec.Resolved {
			return rec, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *flagStoreStub) Create(ctx context.Context, record *models.NeedsHelpRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.StudentID == record.StudentID && !rec.Resolved {
			return errors.New("duplicate open flag")
		}
	}
	if record.ID == "" {
		s.seq++
		record.ID = fmt.Sprintf("flag-%d", s.seq)
	}
	record.CreatedAt = evalNow
	record.UpdatedAt = evalNow
	s.records[record.ID] = record
	return nil
}

func (s *flagStoreStub) UpdateEvaluation(ctx context.Context, record *models.NeedsHelpRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[record.ID]
	if !ok || rec.Resolved {
		return nil
	}
	rec.Reasons = record.Reasons
	rec.DaysNeedingHelp = record.DaysNeedingHelp
	rec.Severity = record.Severity
	rec.AverageScore = record.AverageScore
	rec.CompletionRate = record.CompletionRate
	rec.OverdueAssignments = record.OverdueAssignments
	rec.AssociatedClasses = record.AssociatedClasses
	rec.AssociatedTeachers = record.AssociatedTeachers
	rec.UpdatedAt = evalNow
	return nil
}

func (s *flagStoreStub) Resolve(ctx context.Context, id, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Resolved {
		return sql.ErrNoRows
	}
	rec.Resolved = true
	rec.ResolvedAt = &at
	rec.ResolvedBy = &resolvedBy
	rec.UpdatedAt = at
	return nil
}

func (s *flagStoreStub) UpdateNotes(ctx context.Context, id, notes string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	rec.TeacherNotes = &notes
	rec.UpdatedAt = at
	return nil
}

func (s *flagStoreStub) List(ctx context.Context, filter models.NeedsHelpFilter) ([]models.NeedsHelpRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NeedsHelpRecord
	for _, rec := range s.records {
		if !filter.IncludeResolved && rec.Resolved {
			continue
		}
		if filter.Severity != "" && rec.Severity != filter.Severity {
			continue
		}
		if filter.TeacherID != "" && !containsString(rec.AssociatedTeachers, filter.TeacherID) {
			continue
		}
		out = append(out, *rec)
	}
	return out, len(out), nil
}

func (s *flagStoreStub) CountUnresolved(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.records {
		if !rec.Resolved {
			count++
		}
	}
	return count, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func helpAttempt(assignment, question string, correct bool) models.ProgressAttempt {
	return models.ProgressAttempt{
		ID:           assignment + "-" + question,
		StudentID:    "s1",
		AssignmentID: assignment,
		QuestionID:   question,
		Complete:     true,
		Correct:      correct,
		AttemptedAt:  evalNow.Add(-time.Hour),
	}
}

func newNeedsHelpForTest(src *helpSourceStub, store *flagStoreStub) *NeedsHelpService {
	svc := NewNeedsHelpService(src, src, src, src, store, nil, nil, config.ThresholdConfig{
		CompletionRateMin: 50,
		AverageScoreMin:   50,
		WarningDays:       7,
		CriticalDays:      14,
	}, 2, retry.Policy{MaxAttempts: 1}, zap.NewNop())
	svc.now = func() time.Time { return evalNow }
	return svc
}

func TestEvaluateStudentFlagsLowCompletionAndScore(t *testing.T) {
	src := &helpSourceStub{
		scope: map[string][]string{"s1": {"a1"}},
		contexts: map[string]*models.ClassContext{
			"s1": {ClassIDs: []string{"c1"}, TeacherIDs: []string{"t1"}},
		},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 4, Active: true},
		},
		attempts: map[string][]models.ProgressAttempt{
			"s1": {helpAttempt("a1", "q1", true), helpAttempt("a1", "q2", true)},
		},
	}
	store := newFlagStoreStub()
	svc := newNeedsHelpForTest(src, store)

	transition, err := svc.EvaluateStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flagCreated, transition)

	rec, err := store.GetUnresolvedByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"LOW_COMPLETION", "LOW_SCORE"}, []string(rec.Reasons))
	assert.Equal(t, 1, rec.DaysNeedingHelp)
	assert.Equal(t, models.SeverityRecent, rec.Severity)
	assert.Equal(t, evalNow, rec.NeedsHelpSince)
	assert.Zero(t, rec.CompletionRate)
	assert.Zero(t, rec.AverageScore)
	assert.Equal(t, []string{"c1"}, []string(rec.AssociatedClasses))
	assert.Equal(t, []string{"t1"}, []string(rec.AssociatedTeachers))
}

func TestEvaluateStudentOverdueOnly(t *testing.T) {
	due := evalNow.Add(-24 * time.Hour)
	src := &helpSourceStub{
		scope: map[string][]string{"s1": {"a1", "a2"}},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 2, Active: true},
			"a2": {ID: "a2", QuestionCount: 3, Active: true, DueAt: &due},
		},
		attempts: map[string][]models.ProgressAttempt{
			"s1": {helpAttempt("a1", "q1", true), helpAttempt("a1", "q2", true)},
		},
	}
	store := newFlagStoreStub()
	svc := newNeedsHelpForTest(src, store)

	transition, err := svc.EvaluateStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flagCreated, transition)

	rec, err := store.GetUnresolvedByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"OVERDUE_ASSIGNMENTS"}, []string(rec.Reasons))
	assert.Equal(t, 1, rec.OverdueAssignments)
	assert.InDelta(t, 50.0, rec.CompletionRate, 0.001)
	assert.InDelta(t, 100.0, rec.AverageScore, 0.001)
}

func TestEvaluateStudentNoAssignmentsNeverFlags(t *testing.T) {
	src := &helpSourceStub{scope: map[string][]string{}}
	store := newFlagStoreStub()
	svc := newNeedsHelpForTest(src, store)

	transition, err := svc.EvaluateStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flagNone, transition)
	count, _ := store.CountUnresolved(context.Background())
	assert.Zero(t, count)
}

func TestEvaluateStudentHealthyStaysUnflagged(t *testing.T) {
	src := &helpSourceStub{
		scope: map[string][]string{"s1": {"a1"}},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 2, Active: true},
		},
		attempts: map[string][]models.ProgressAttempt{
			"s1": {helpAttempt("a1", "q1", true), helpAttempt("a1", "q2", true)},
		},
	}
	store := newFlagStoreStub()
	svc := newNeedsHelpForTest(src, store)

	transition, err := svc.EvaluateStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flagNone, transition)
}

func TestEvaluateStudentRefreshKeepsSinceAndNotes(t *testing.T) {
	src := &helpSourceStub{
		scope: map[string][]string{"s1": {"a1"}},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 4, Active: true},
		},
		attempts: map[string][]models.ProgressAttempt{
			"s1": {helpAttempt("a1", "q1", false)},
		},
	}
	store := newFlagStoreStub()
	since := evalNow.Add(-10 * 24 * time.Hour)
	notes := "called home on monday"
	store.records["flag-old"] = &models.NeedsHelpRecord{
		ID:              "flag-old",
		StudentID:       "s1",
		Reasons:         []string{"LOW_COMPLETION"},
		NeedsHelpSince:  since,
		DaysNeedingHelp: 1,
		Severity:        models.SeverityRecent,
		TeacherNotes:    &notes,
	}
	svc := newNeedsHelpForTest(src, store)

	transition, err := svc.EvaluateStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flagUpdated, transition)

	rec := store.records["flag-old"]
	assert.Equal(t, since, rec.NeedsHelpSince)
	assert.Equal(t, 10, rec.DaysNeedingHelp)
	assert.Equal(t, models.SeverityWarning, rec.Severity)
	require.NotNil(t, rec.TeacherNotes)
	assert.Equal(t, notes, *rec.TeacherNotes)
}

func TestEvaluateStudentEscalatesToCritical(t *testing.T) {
	src := &helpSourceStub{
		scope: map[string][]string{"s1": {"a1"}},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 4, Active: true},
		},
		attempts: map[string][]models.ProgressAttempt{},
	}
	store := newFlagStoreStub()
	store.records["flag-old"] = &models.NeedsHelpRecord{
		ID:             "flag-old",
		StudentID:      "s1",
		Reasons:        []string{"LOW_COMPLETION"},
		NeedsHelpSince: evalNow.Add(-15 * 24 * time.Hour),
		Severity:       models.SeverityWarning,
	}
	svc := newNeedsHelpForTest(src, store)

	transition, err := svc.EvaluateStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flagUpdated, transition)
	assert.Equal(t, 15, store.records["flag-old"].DaysNeedingHelp)
	assert.Equal(t, models.SeverityCritical, store.records["flag-old"].Severity)
}

func TestEvaluateStudentAutoResolvesRecovered(t *testing.T) {
	src := &helpSourceStub{
		scope: map[string][]string{"s1": {"a1"}},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 2, Active: true},
		},
		attempts: map[string][]models.ProgressAttempt{
			"s1": {helpAttempt("a1", "q1", true), helpAttempt("a1", "q2", true)},
		},
	}
	store := newFlagStoreStub()
	store.records["flag-old"] = &models.NeedsHelpRecord{
		ID:             "flag-old",
		StudentID:      "s1",
		Reasons:        []string{"LOW_COMPLETION"},
		NeedsHelpSince: evalNow.Add(-3 * 24 * time.Hour),
		Severity:       models.SeverityRecent,
		CompletionRate: 20,
	}
	svc := newNeedsHelpForTest(src, store)

	transition, err := svc.EvaluateStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flagResolved, transition)

	rec := store.records["flag-old"]
	assert.True(t, rec.Resolved)
	require.NotNil(t, rec.ResolvedBy)
	assert.Equal(t, "system", *rec.ResolvedBy)
	require.NotNil(t, rec.ResolvedAt)
	assert.Equal(t, evalNow, *rec.ResolvedAt)
	assert.InDelta(t, 20.0, rec.CompletionRate, 0.001)
}

func TestEvaluateStudentReflagOpensNewRecord(t *testing.T) {
	src := &helpSourceStub{
		scope: map[string][]string{"s1": {"a1"}},
		assignments: map[string]models.Assignment{
			"a1": {ID: "a1", QuestionCount: 4, Active: true},
		},
		attempts: map[string][]models.ProgressAttempt{},
	}
	store := newFlagStoreStub()
	resolvedAt := evalNow.Add(-30 * 24 * time.Hour)
	actor := "teacher-1"
	store.records["flag-history"] = &models.NeedsHelpRecord{
		ID:             "flag-history",
		StudentID:      "s1",
		Reasons:        []string{"LOW_SCORE"},
		NeedsHelpSince: evalNow.Add(-40 * 24 * time.Hour),
		Severity:       models.SeverityCritical,
		Resolved:       true,
		ResolvedAt:     &resolvedAt,
		ResolvedBy:     &actor,
	}
	svc := newNeedsHelpForTest(src, store)

	transition, err := svc.EvaluateStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flagCreated, transition)
	assert.Len(t, store.records, 2)

	fresh, err := store.GetUnresolvedByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotEqual(t, "flag-history", fresh.ID)
	assert.Equal(t, evalNow, fresh.NeedsHelpSince)
	assert.Equal(t, models.SeverityRecent, fresh.Severity)
	assert.True(t, store.records["flag-history"].Resolved)
}

func TestEvaluateAllCountsTransitionsAndIsolatesFailures(t *testing.T) {
	due := evalNow.Add(-48 * time.Hour)
	src := &helpSourceStub{
		students: []string{"s-new", "s-open", "s-healed", "s-broken"},
		scope: map[string][]string{
			"s-new":    {"a-due"},
			"s-open":   {"a-due"},
			"s-healed": {"a-done"},
		},
		scopeErr: map[string]error{"s-broken": errors.New("scope query timeout")},
		assignments: map[string]models.Assignment{
			"a-due":  {ID: "a-due", QuestionCount: 3, Active: true, DueAt: &due},
			"a-done": {ID: "a-done", QuestionCount: 1, Active: true},
		},
		attempts: map[string][]models.ProgressAttempt{
			"s-healed": {{
				ID: "a-done-q1", StudentID: "s-healed", AssignmentID: "a-done",
				QuestionID: "q1", Complete: true, Correct: true, AttemptedAt: evalNow.Add(-time.Hour),
			}},
		},
	}
	store := newFlagStoreStub()
	store.records["flag-open"] = &models.NeedsHelpRecord{
		ID:             "flag-open",
		StudentID:      "s-open",
		Reasons:        []string{"OVERDUE_ASSIGNMENTS"},
		NeedsHelpSince: evalNow.Add(-8 * 24 * time.Hour),
	}
	store.records["flag-healed"] = &models.NeedsHelpRecord{
		ID:             "flag-healed",
		StudentID:      "s-healed",
		Reasons:        []string{"LOW_COMPLETION"},
		NeedsHelpSince: evalNow.Add(-2 * 24 * time.Hour),
	}
	svc := newNeedsHelpForTest(src, store)

	counters, skipped, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Created)
	assert.Equal(t, 1, counters.Updated)
	assert.Equal(t, 1, counters.Resolved)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, models.SeverityWarning, store.records["flag-open"].Severity)
}

func TestListRejectsUnknownSeverity(t *testing.T) {
	svc := newNeedsHelpForTest(&helpSourceStub{}, newFlagStoreStub())
	_, _, err := svc.List(context.Background(), models.NeedsHelpFilter{Severity: "URGENT"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}

func TestUpdateNotesValidatesAndPersists(t *testing.T) {
	store := newFlagStoreStub()
	resolvedAt := evalNow.Add(-time.Hour)
	store.records["flag-1"] = &models.NeedsHelpRecord{
		ID:         "flag-1",
		StudentID:  "s1",
		Resolved:   true,
		ResolvedAt: &resolvedAt,
	}
	svc := newNeedsHelpForTest(&helpSourceStub{}, store)

	_, err := svc.UpdateNotes(context.Background(), "flag-1", "   ")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))

	_, err = svc.UpdateNotes(context.Background(), "flag-1", strings.Repeat("x", 2001))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))

	_, err = svc.UpdateNotes(context.Background(), "flag-missing", "note")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))

	rec, err := svc.UpdateNotes(context.Background(), "flag-1", "met with parents")
	require.NoError(t, err)
	require.NotNil(t, rec.TeacherNotes)
	assert.Equal(t, "met with parents", *rec.TeacherNotes)
	assert.True(t, rec.Resolved)
}

func TestResolveManual(t *testing.T) {
	store := newFlagStoreStub()
	store.records["flag-1"] = &models.NeedsHelpRecord{
		ID:        "flag-1",
		StudentID: "s1",
		Severity:  models.SeverityWarning,
	}
	svc := newNeedsHelpForTest(&helpSourceStub{}, store)

	_, err := svc.Resolve(context.Background(), "flag-1", " ")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))

	_, err = svc.Resolve(context.Background(), "flag-missing", "teacher-2")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))

	rec, err := svc.Resolve(context.Background(), "flag-1", "teacher-2")
	require.NoError(t, err)
	assert.True(t, rec.Resolved)
	require.NotNil(t, rec.ResolvedBy)
	assert.Equal(t, "teacher-2", *rec.ResolvedBy)
	require.NotNil(t, rec.ResolvedAt)
	assert.Equal(t, evalNow, *rec.ResolvedAt)

	_, err = svc.Resolve(context.Background(), "flag-1", "teacher-3")
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyResolved.Code))
}
