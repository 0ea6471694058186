package dto

// RunTriggerResponse acknowledges a manually requested aggregation run.
type RunTriggerResponse struct {
	RunID string `json:"runId"`
}
