package models

import "time"

// DashboardOverview is the composite ops view, assembled from materialized
// aggregates only. Sections a source could not serve are left at their zero
// value rather than failing the whole payload.
type DashboardOverview struct {
	School      *SchoolStats         `json:"school,omitempty"`
	Severity    SeverityDistribution `json:"severity"`
	RecentFlags []NeedsHelpRecord    `json:"recent_flags"`
	LastRun     *AggregationRun      `json:"last_run,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}
