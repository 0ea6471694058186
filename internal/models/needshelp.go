package models

import (
	"time"

	"github.com/lib/pq"
)

// HelpSeverity is derived from how long a student has carried an active flag
// and refreshed on every evaluation. Bands: RECENT up to 7 days, WARNING 8-14,
// CRITICAL 15+.
type HelpSeverity string

const (
	SeverityRecent   HelpSeverity = "RECENT"
	SeverityWarning  HelpSeverity = "WARNING"
	SeverityCritical HelpSeverity = "CRITICAL"
)

// HelpReason identifies which threshold a flagged student tripped. A record
// carries every reason that held at its last evaluation.
type HelpReason string

const (
	ReasonLowCompletion      HelpReason = "LOW_COMPLETION"
	ReasonLowScore           HelpReason = "LOW_SCORE"
	ReasonOverdueAssignments HelpReason = "OVERDUE_ASSIGNMENTS"
)

// NeedsHelpRecord is one flagging episode for a student. At most one
// unresolved record exists per student; resolution freezes the row and a
// later re-flag opens a fresh one.
type NeedsHelpRecord struct {
	ID                 string         `db:"id" json:"id"`
	StudentID          string         `db:"student_id" json:"student_id"`
	Reasons            pq.StringArray `db:"reasons" json:"reasons"`
	NeedsHelpSince     time.Time      `db:"needs_help_since" json:"needs_help_since"`
	DaysNeedingHelp    int            `db:"days_needing_help" json:"days_needing_help"`
	Severity           HelpSeverity   `db:"severity" json:"severity"`
	AverageScore       float64        `db:"average_score" json:"average_score"`
	CompletionRate     float64        `db:"completion_rate" json:"completion_rate"`
	OverdueAssignments int            `db:"overdue_assignments" json:"overdue_assignments"`
	AssociatedClasses  pq.StringArray `db:"associated_classes" json:"associated_classes"`
	AssociatedTeachers pq.StringArray `db:"associated_teachers" json:"associated_teachers"`
	TeacherNotes       *string        `db:"teacher_notes" json:"teacher_notes,omitempty"`
	Resolved           bool           `db:"resolved" json:"resolved"`
	ResolvedAt         *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy         *string        `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// NeedsHelpFilter narrows the roster listing.
type NeedsHelpFilter struct {
	IncludeResolved bool
	Severity        HelpSeverity
	TeacherID       string
	Page            int
	PageSize        int
}

// SeverityDistribution counts unresolved records per derived severity band.
type SeverityDistribution struct {
	Recent   int `json:"recent"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}
