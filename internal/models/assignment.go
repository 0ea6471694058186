package models

import "time"

// Assignment mirrors the platform assignment catalogue (read-only to the
// engine). QuestionCount is the authoritative size used by completion math.
type Assignment struct {
	ID            string     `db:"id" json:"id"`
	Title         string     `db:"title" json:"title"`
	LanguageCode  string     `db:"language_code" json:"language_code"`
	QuestionCount int        `db:"question_count" json:"question_count"`
	Active        bool       `db:"active" json:"active"`
	AvailableAt   *time.Time `db:"available_at" json:"available_at,omitempty"`
	DueAt         *time.Time `db:"due_at" json:"due_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// AssignmentScheduleCounts buckets the catalogue by schedule state for the
// school snapshot: scheduled (not yet available), completed (past due),
// active (available, not past due, active flag set).
type AssignmentScheduleCounts struct {
	Total     int `db:"total"`
	Active    int `db:"active"`
	Scheduled int `db:"scheduled"`
	Completed int `db:"completed"`
}
