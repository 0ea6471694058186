package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lingora-app/insight-api/internal/models"
)

func attempt(id, question string, complete, correct bool, at time.Time) models.ProgressAttempt {
	return models.ProgressAttempt{
		ID:          id,
		StudentID:   "s1",
		QuestionID:  question,
		Complete:    complete,
		Correct:     correct,
		AttemptedAt: at,
	}
}

func TestReduceQuestionsLatestAttemptWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	answered, correct := reduceQuestions([]models.ProgressAttempt{
		attempt("a1", "q1", true, false, base),
		attempt("a2", "q1", true, true, base.Add(time.Hour)),
	})
	assert.Equal(t, 1, answered)
	assert.Equal(t, 1, correct)

	answered, correct = reduceQuestions([]models.ProgressAttempt{
		attempt("a1", "q1", true, true, base),
		attempt("a2", "q1", true, false, base.Add(time.Hour)),
	})
	assert.Equal(t, 1, answered)
	assert.Equal(t, 0, correct)
}

func TestReduceQuestionsIgnoresIncomplete(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	answered, correct := reduceQuestions([]models.ProgressAttempt{
		attempt("a1", "q1", false, false, base),
		attempt("a2", "q2", true, true, base),
		attempt("a3", "q3", false, true, base.Add(time.Hour)),
	})
	assert.Equal(t, 1, answered)
	assert.Equal(t, 1, correct)
}

func TestReduceQuestionsTieBrokenByRowID(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	answered, correct := reduceQuestions([]models.ProgressAttempt{
		attempt("b", "q1", true, true, at),
		attempt("a", "q1", true, false, at),
	})
	assert.Equal(t, 1, answered)
	assert.Equal(t, 1, correct)
}

func TestReduceQuestionsOrderIndependent(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	forward := []models.ProgressAttempt{
		attempt("a1", "q1", true, false, base),
		attempt("a2", "q1", true, true, base.Add(time.Minute)),
		attempt("a3", "q2", true, true, base),
	}
	reversed := []models.ProgressAttempt{forward[2], forward[1], forward[0]}

	fa, fc := reduceQuestions(forward)
	ra, rc := reduceQuestions(reversed)
	assert.Equal(t, fa, ra)
	assert.Equal(t, fc, rc)
}

func TestProgressState(t *testing.T) {
	assert.Equal(t, models.ProgressNotStarted, progressState(0, 4))
	assert.Equal(t, models.ProgressInProgress, progressState(2, 4))
	assert.Equal(t, models.ProgressCompleted, progressState(4, 4))
	assert.Equal(t, models.ProgressNotStarted, progressState(0, 0))
}

func TestClampRate(t *testing.T) {
	assert.Equal(t, 66.67, clampRate(66.66666))
	assert.Equal(t, 0.0, clampRate(-3))
	assert.Equal(t, 100.0, clampRate(104.2))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, percentage(3, 0))
	assert.Equal(t, 50.0, percentage(2, 4))
	assert.Equal(t, 100.0, percentage(4, 4))
}

func TestMeanRate(t *testing.T) {
	assert.Equal(t, 0.0, meanRate(nil))
	assert.Equal(t, 75.0, meanRate([]float64{50, 100}))
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, daysSince(now, now))
	assert.Equal(t, 1, daysSince(now.Add(time.Hour), now))
	assert.Equal(t, 1, daysSince(now.Add(-12*time.Hour), now))
	assert.Equal(t, 7, daysSince(now.AddDate(0, 0, -7), now))
	assert.Equal(t, 8, daysSince(now.AddDate(0, 0, -7).Add(-time.Second), now))
	assert.Equal(t, 10, daysSince(now.AddDate(0, 0, -10), now))
}

func TestSeverityForDays(t *testing.T) {
	assert.Equal(t, models.SeverityRecent, severityForDays(1, 7, 14))
	assert.Equal(t, models.SeverityRecent, severityForDays(7, 7, 14))
	assert.Equal(t, models.SeverityWarning, severityForDays(8, 7, 14))
	assert.Equal(t, models.SeverityWarning, severityForDays(14, 7, 14))
	assert.Equal(t, models.SeverityCritical, severityForDays(15, 7, 14))
}
