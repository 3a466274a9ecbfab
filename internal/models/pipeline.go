package models

import "time"

// StageStatus is the outcome of a pipeline stage.
type StageStatus string

const (
	StatusSuccess StageStatus = "success"
	StatusWarning StageStatus = "warning"
	StatusFailed  StageStatus = "failed"
)

// StageResult records what a stage did. A warning lets the pipeline continue.
type StageResult struct {
	Stage    string        `json:"stage"`
	Status   StageStatus   `json:"status"`
	Details  string        `json:"details"`
	Duration time.Duration `json:"duration"`
}

// Notification is the document sent to the pipeline notifications index.
type Notification struct {
	PipelineID string `json:"pipeline_id"`
	Timestamp  string `json:"timestamp"`
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Details    string `json:"details"`
	Project    string `json:"project"`
}
