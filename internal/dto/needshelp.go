package dto

import (
	"fmt"
	"time"

	"github.com/lingora-app/insight-api/internal/models"
)

// NotesUpdateRequest carries the collaborator-owned teacher notes.
type NotesUpdateRequest struct {
	TeacherNotes string `json:"teacherNotes"`
}

// ResolveRequest names the collaborator closing a flag.
type ResolveRequest struct {
	ResolvedBy string `json:"resolvedBy"`
}

// NeedsHelpRecordResponse reshapes a flag record for API consumers, pairing
// each reason code with a human-readable detail line.
type NeedsHelpRecordResponse struct {
	ID                 string              `json:"id"`
	StudentID          string              `json:"studentId"`
	Reasons            []string            `json:"reasons"`
	ReasonDetails      []string            `json:"reasonDetails"`
	NeedsHelpSince     time.Time           `json:"needsHelpSince"`
	DaysNeedingHelp    int                 `json:"daysNeedingHelp"`
	Severity           models.HelpSeverity `json:"severity"`
	AverageScore       float64             `json:"averageScore"`
	CompletionRate     float64             `json:"completionRate"`
	OverdueAssignments int                 `json:"overdueAssignments"`
	AssociatedClasses  []string            `json:"associatedClasses"`
	AssociatedTeachers []string            `json:"associatedTeachers"`
	TeacherNotes       *string             `json:"teacherNotes,omitempty"`
	Resolved           bool                `json:"resolved"`
	ResolvedAt         *time.Time          `json:"resolvedAt,omitempty"`
	ResolvedBy         *string             `json:"resolvedBy,omitempty"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// NewNeedsHelpRecordResponse converts a stored record.
func NewNeedsHelpRecordResponse(record models.NeedsHelpRecord) NeedsHelpRecordResponse {
	return NeedsHelpRecordResponse{
		ID:                 record.ID,
		StudentID:          record.StudentID,
		Reasons:            record.Reasons,
		ReasonDetails:      reasonDetails(record),
		NeedsHelpSince:     record.NeedsHelpSince,
		DaysNeedingHelp:    record.DaysNeedingHelp,
		Severity:           record.Severity,
		AverageScore:       record.AverageScore,
		CompletionRate:     record.CompletionRate,
		OverdueAssignments: record.OverdueAssignments,
		AssociatedClasses:  record.AssociatedClasses,
		AssociatedTeachers: record.AssociatedTeachers,
		TeacherNotes:       record.TeacherNotes,
		Resolved:           record.Resolved,
		ResolvedAt:         record.ResolvedAt,
		ResolvedBy:         record.ResolvedBy,
		UpdatedAt:          record.UpdatedAt,
	}
}

// NewNeedsHelpListResponse converts a page of records.
func NewNeedsHelpListResponse(records []models.NeedsHelpRecord) []NeedsHelpRecordResponse {
	out := make([]NeedsHelpRecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, NewNeedsHelpRecordResponse(record))
	}
	return out
}

func reasonDetails(record models.NeedsHelpRecord) []string {
	details := make([]string, 0, len(record.Reasons))
	for _, reason := range record.Reasons {
		switch models.HelpReason(reason) {
		case models.ReasonLowCompletion:
			details = append(details, fmt.Sprintf("Low completion rate (%.1f%%)", record.CompletionRate))
		case models.ReasonLowScore:
			details = append(details, fmt.Sprintf("Low average score (%.1f)", record.AverageScore))
		case models.ReasonOverdueAssignments:
			if record.OverdueAssignments == 1 {
				details = append(details, "1 overdue assignment")
			} else {
				details = append(details, fmt.Sprintf("%d overdue assignments", record.OverdueAssignments))
			}
		}
	}
	return details
}
