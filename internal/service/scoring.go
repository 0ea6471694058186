package service

import (
	"math"
	"time"

	"github.com/lingora-app/insight-api/internal/models"
)

// The raw attempt log may hold several rows per (student, question). The most
// recent complete attempt per question is authoritative, ties broken by row
// id: a question counts as answered when at least one complete attempt
// exists, and as correct when its authoritative attempt is correct. Question
// counts derived this way can never exceed the question total, so accuracy
// stays within 100%.

type questionState struct {
	at      time.Time
	id      string
	correct bool
}

func supersedes(attempt models.ProgressAttempt, current questionState) bool {
	if attempt.AttemptedAt.After(current.at) {
		return true
	}
	if attempt.AttemptedAt.Equal(current.at) {
		return attempt.ID > current.id
	}
	return false
}

// reduceQuestions collapses one student's attempts on one assignment into
// answered/correct question counts. Order of the input does not matter.
func reduceQuestions(attempts []models.ProgressAttempt) (answered, correct int) {
	latest := make(map[string]questionState, len(attempts))
	for _, attempt := range attempts {
		if !attempt.Complete {
			continue
		}
		current, ok := latest[attempt.QuestionID]
		if ok && !supersedes(attempt, current) {
			continue
		}
		latest[attempt.QuestionID] = questionState{at: attempt.AttemptedAt, id: attempt.ID, correct: attempt.Correct}
	}
	answered = len(latest)
	for _, state := range latest {
		if state.correct {
			correct++
		}
	}
	return answered, correct
}

// progressState classifies one student's standing on one assignment.
func progressState(answered, questionCount int) models.ProgressState {
	switch {
	case questionCount > 0 && answered >= questionCount:
		return models.ProgressCompleted
	case answered > 0:
		return models.ProgressInProgress
	default:
		return models.ProgressNotStarted
	}
}

// clampRate rounds to two decimals and keeps the value inside [0,100].
func clampRate(v float64) float64 {
	v = math.RoundToEven(v*100) / 100
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// percentage returns part/whole as a clamped percentage, 0 when whole is 0.
func percentage(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return clampRate(float64(part) / float64(whole) * 100)
}

// meanRate averages already-computed percentages, 0 for an empty slice.
func meanRate(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return clampRate(sum / float64(len(values)))
}

// groupByAssignment buckets a student's attempts per assignment.
func groupByAssignment(attempts []models.ProgressAttempt) map[string][]models.ProgressAttempt {
	grouped := make(map[string][]models.ProgressAttempt)
	for _, attempt := range attempts {
		grouped[attempt.AssignmentID] = append(grouped[attempt.AssignmentID], attempt)
	}
	return grouped
}

// groupByStudent buckets an assignment's attempts per student.
func groupByStudent(attempts []models.ProgressAttempt) map[string][]models.ProgressAttempt {
	grouped := make(map[string][]models.ProgressAttempt)
	for _, attempt := range attempts {
		grouped[attempt.StudentID] = append(grouped[attempt.StudentID], attempt)
	}
	return grouped
}

// daysSince converts the age of a flag into whole days, minimum 1, partial
// days rounded up.
func daysSince(since, now time.Time) int {
	elapsed := now.Sub(since)
	if elapsed <= 0 {
		return 1
	}
	days := int(math.Ceil(elapsed.Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// severityForDays maps flag age onto the escalation bands.
func severityForDays(days, warningDays, criticalDays int) models.HelpSeverity {
	switch {
	case days > criticalDays:
		return models.SeverityCritical
	case days > warningDays:
		return models.SeverityWarning
	default:
		return models.SeverityRecent
	}
}
