package models

import "time"

// StepStatus represents the lifecycle state of a materialized step.
type StepStatus string

const (
	StepStatusQueued    StepStatus = "queued"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCanceled  StepStatus = "canceled"
	StepStatusSkipped   StepStatus = "skipped"
)

// Step is one unit of work within a run, snapshotted from the pipeline's
// step definition when the run is created. Ordinal is unique within a run
// and steps execute in strict ascending ordinal order.
type Step struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"  validate:"required"`
	Ordinal      int            `json:"ordinal"`
	Name         string         `json:"name"`
	Type         StepType       `json:"type"`
	Engine       EngineConfig   `json:"engine"`
	Query        string         `json:"query"`
	Params       map[string]any `json:"params,omitempty"`
	Status       StepStatus     `json:"status"`
	Attempt      int            `json:"attempt"`
	MaxAttempts  int            `json:"max_attempts"`
	TimeoutMs    int            `json:"timeout_ms"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RowCount     int64          `json:"row_count,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	HeartbeatAt  *time.Time     `json:"heartbeat_at,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// Terminal reports whether the step reached a final state. Terminal steps
// are never re-executed, which makes worker restarts mid-run safe.
func (s *Step) Terminal() bool {
	switch s.Status {
	case StepStatusSucceeded, StepStatusFailed, StepStatusCanceled, StepStatusSkipped:
		return true
	case StepStatusQueued, StepStatusRunning:
		return false
	}

	return false
}
