package model

import "time"

// Stage names a pipeline step.
type Stage string

const (
	StageClassify Stage = "classify"
	StageExtract  Stage = "extract"
	StageValidate Stage = "validate"
	StageMap      Stage = "map"
	StageBuild    Stage = "build"
	StagePost     Stage = "post"
)

// StageStatus represents the outcome of a stage execution.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageRun is the audit row for one stage execution on one document.
type StageRun struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Stage      Stage          `json:"stage"`
	Status     StageStatus    `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
}
