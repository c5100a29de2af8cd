package models

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Run is one execution instance of a pipeline. CancelRequested is a request
// flag distinct from the terminal canceled status: a run can be flagged while
// still running and transitions to canceled at its next step boundary.
type Run struct {
	ID              string     `json:"id"`
	PipelineID      string     `json:"pipeline_id"  validate:"required"`
	PipelineName    string     `json:"pipeline_name"`
	Status          RunStatus  `json:"status"`
	CancelRequested bool       `json:"cancel_requested"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the run reached a final state. FinishedAt is set
// if and only if Terminal returns true.
func (r *Run) Terminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	case RunStatusQueued, RunStatusRunning:
		return false
	}

	return false
}
