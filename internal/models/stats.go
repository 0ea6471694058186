package models

import "time"

// StudentStats is the materialized aggregate row for one student, overwritten
// by upsert on every pipeline run and never deleted by the engine.
type StudentStats struct {
	StudentID             string    `db:"student_id" json:"student_id"`
	TotalAssignments      int       `db:"total_assignments" json:"total_assignments"`
	CompletedAssignments  int       `db:"completed_assignments" json:"completed_assignments"`
	InProgressAssignments int       `db:"in_progress_assignments" json:"in_progress_assignments"`
	AverageScore          float64   `db:"average_score" json:"average_score"`
	TotalQuestions        int       `db:"total_questions" json:"total_questions"`
	TotalAnswers          int       `db:"total_answers" json:"total_answers"`
	TotalCorrectAnswers   int       `db:"total_correct_answers" json:"total_correct_answers"`
	AccuracyRate          float64   `db:"accuracy_rate" json:"accuracy_rate"`
	CompletionRate        float64   `db:"completion_rate" json:"completion_rate"`
	LastUpdated           time.Time `db:"last_updated" json:"last_updated"`
}

// AssignmentStats is the materialized aggregate row for one assignment.
type AssignmentStats struct {
	AssignmentID        string    `db:"assignment_id" json:"assignment_id"`
	TotalStudents       int       `db:"total_students" json:"total_students"`
	TotalQuestions      int       `db:"total_questions" json:"total_questions"`
	CompletedStudents   int       `db:"completed_students" json:"completed_students"`
	InProgressStudents  int       `db:"in_progress_students" json:"in_progress_students"`
	NotStartedStudents  int       `db:"not_started_students" json:"not_started_students"`
	CompletionRate      float64   `db:"completion_rate" json:"completion_rate"`
	AverageScore        float64   `db:"average_score" json:"average_score"`
	TotalAnswers        int       `db:"total_answers" json:"total_answers"`
	TotalCorrectAnswers int       `db:"total_correct_answers" json:"total_correct_answers"`
	AccuracyRate        float64   `db:"accuracy_rate" json:"accuracy_rate"`
	LastUpdated         time.Time `db:"last_updated" json:"last_updated"`
}

// AssignmentStatsRollup carries the averages and sums the school snapshot
// takes over the current assignment_stats rows.
type AssignmentStatsRollup struct {
	Count                 int     `db:"count"`
	AverageCompletionRate float64 `db:"average_completion_rate"`
	AverageScore          float64 `db:"average_score"`
	TotalQuestions        int     `db:"total_questions"`
	TotalAnswers          int     `db:"total_answers"`
	TotalCorrectAnswers   int     `db:"total_correct_answers"`
}

// SchoolStats is the dated school-wide snapshot, one row per calendar day
// (UTC), upserted in place within the day.
type SchoolStats struct {
	StatDate              time.Time `db:"stat_date" json:"stat_date"`
	TotalUsers            int       `db:"total_users" json:"total_users"`
	TotalTeachers         int       `db:"total_teachers" json:"total_teachers"`
	TotalStudents         int       `db:"total_students" json:"total_students"`
	TotalClasses          int       `db:"total_classes" json:"total_classes"`
	TotalAssignments      int       `db:"total_assignments" json:"total_assignments"`
	ActiveAssignments     int       `db:"active_assignments" json:"active_assignments"`
	ScheduledAssignments  int       `db:"scheduled_assignments" json:"scheduled_assignments"`
	CompletedAssignments  int       `db:"completed_assignments" json:"completed_assignments"`
	AverageCompletionRate float64   `db:"average_completion_rate" json:"average_completion_rate"`
	AverageScore          float64   `db:"average_score" json:"average_score"`
	TotalQuestions        int       `db:"total_questions" json:"total_questions"`
	TotalAnswers          int       `db:"total_answers" json:"total_answers"`
	TotalCorrectAnswers   int       `db:"total_correct_answers" json:"total_correct_answers"`
	DailyActiveStudents   int       `db:"daily_active_students" json:"daily_active_students"`
	DailyActiveTeachers   int       `db:"daily_active_teachers" json:"daily_active_teachers"`
	StudentsNeedingHelp   int       `db:"students_needing_help" json:"students_needing_help"`
	LastUpdated           time.Time `db:"last_updated" json:"last_updated"`
}
