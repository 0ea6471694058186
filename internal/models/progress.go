package models

import "time"

// ProgressAttempt is one row of the raw progress log (read-only to the
// engine). Multiple attempts may exist per (student, question); reduction to
// an authoritative attempt happens in the scoring layer.
type ProgressAttempt struct {
	ID           string     `db:"id" json:"id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	AssignmentID string     `db:"assignment_id" json:"assignment_id"`
	QuestionID   string     `db:"question_id" json:"question_id"`
	Complete     bool       `db:"complete" json:"complete"`
	Correct      bool       `db:"correct" json:"correct"`
	Score        *float64   `db:"score" json:"score,omitempty"`
	AttemptedAt  time.Time  `db:"attempted_at" json:"attempted_at"`
}

// ProgressState classifies a student's standing on one assignment.
type ProgressState string

const (
	ProgressCompleted  ProgressState = "COMPLETED"
	ProgressInProgress ProgressState = "IN_PROGRESS"
	ProgressNotStarted ProgressState = "NOT_STARTED"
)

// AssignmentProgress is the live, recomputed per-student breakdown for one
// assignment. It bypasses the cached aggregates deliberately.
type AssignmentProgress struct {
	AssignmentID       string                 `json:"assignment_id"`
	Title              string                 `json:"title"`
	QuestionCount      int                    `json:"question_count"`
	TotalStudents      int                    `json:"total_students"`
	CompletedStudents  int                    `json:"completed_students"`
	InProgressStudents int                    `json:"in_progress_students"`
	NotStartedStudents int                    `json:"not_started_students"`
	Students           []StudentProgressEntry `json:"students"`
	GeneratedAt        time.Time              `json:"generated_at"`
}

// StudentProgressEntry is one student's live standing inside an assignment
// breakdown.
type StudentProgressEntry struct {
	StudentID         string        `json:"student_id"`
	FullName          string        `json:"full_name"`
	AnsweredQuestions int           `json:"answered_questions"`
	CorrectAnswers    int           `json:"correct_answers"`
	Status            ProgressState `json:"status"`
	ScorePercent      *float64      `json:"score_percent,omitempty"`
}

// StudentAssignmentBreakdown is one assignment's live standing inside a
// student drill-down.
type StudentAssignmentBreakdown struct {
	AssignmentID      string        `json:"assignment_id"`
	Title             string        `json:"title"`
	QuestionCount     int           `json:"question_count"`
	AnsweredQuestions int           `json:"answered_questions"`
	CorrectAnswers    int           `json:"correct_answers"`
	Status            ProgressState `json:"status"`
	ScorePercent      *float64      `json:"score_percent,omitempty"`
	DueAt             *time.Time    `json:"due_at,omitempty"`
	Overdue           bool          `json:"overdue"`
}
