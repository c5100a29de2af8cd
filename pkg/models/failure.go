package models

import "time"

// FailureCategory is the root-cause bucket assigned to a failure.
type FailureCategory string

const (
	FailureSchemaChange    FailureCategory = "schema_change"
	FailureConnectionError FailureCategory = "connection_error"
	FailureTimeout         FailureCategory = "timeout"
	FailurePermission      FailureCategory = "permission"
	FailureDataQuality     FailureCategory = "data_quality"
	FailureUnknown         FailureCategory = "unknown"
)

// Classification is the outcome of root-cause analysis for one failure.
type Classification struct {
	Category     FailureCategory `json:"category"`
	Confidence   float64         `json:"confidence"` // in [0,1]
	RootCause    string          `json:"root_cause"`
	SuggestedFix string          `json:"suggested_fix,omitempty"`
	AutoFixable  bool            `json:"auto_fixable"`
}

// FailureEvent is the input handed to the failure intelligence layer when a
// run reaches a terminal failure.
type FailureEvent struct {
	PipelineID    string    `json:"pipeline_id"   validate:"required"`
	PipelineName  string    `json:"pipeline_name"`
	RunID         string    `json:"run_id"        validate:"required"`
	StepID        string    `json:"step_id,omitempty"`
	ErrorMessage  string    `json:"error_message" validate:"required"`
	StackTrace    string    `json:"stack_trace,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	AttemptNumber int       `json:"attempt_number"`
	Logs          []string  `json:"logs,omitempty"`
}

// Severity grades an escalated failure for the incident system.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Reference points at a record created in an external ticketing or incident
// system. The orchestration core records references but never owns their
// lifecycle.
type Reference struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
