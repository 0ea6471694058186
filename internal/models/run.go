package models

import "time"

// RunTrigger records what started an aggregation run.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "SCHEDULED"
	TriggerManual    RunTrigger = "MANUAL"
)

// RunStatus is the lifecycle of an aggregation run audit row.
type RunStatus string

const (
	RunStatusRunning             RunStatus = "RUNNING"
	RunStatusCompleted           RunStatus = "COMPLETED"
	RunStatusCompletedWithErrors RunStatus = "COMPLETED_WITH_ERRORS"
	RunStatusFailed              RunStatus = "FAILED"
)

// AggregationRun is the audit row written for every pipeline execution,
// whether scheduled or manually triggered.
type AggregationRun struct {
	ID                   string     `db:"id" json:"id"`
	Trigger              RunTrigger `db:"trigger" json:"trigger"`
	Status               RunStatus  `db:"status" json:"status"`
	StudentsProcessed    int        `db:"students_processed" json:"students_processed"`
	StudentsFailed       int        `db:"students_failed" json:"students_failed"`
	AssignmentsProcessed int        `db:"assignments_processed" json:"assignments_processed"`
	AssignmentsFailed    int        `db:"assignments_failed" json:"assignments_failed"`
	FlagsCreated         int        `db:"flags_created" json:"flags_created"`
	FlagsUpdated         int        `db:"flags_updated" json:"flags_updated"`
	FlagsResolved        int        `db:"flags_resolved" json:"flags_resolved"`
	ErrorMessage         *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt            time.Time  `db:"started_at" json:"started_at"`
	FinishedAt           *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// RunCounters accumulates per-entity outcomes while a run is in flight.
type RunCounters struct {
	StudentsProcessed    int
	StudentsFailed       int
	AssignmentsProcessed int
	AssignmentsFailed    int
	FlagsCreated         int
	FlagsUpdated         int
	FlagsResolved        int
}
