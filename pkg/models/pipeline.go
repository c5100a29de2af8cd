// Package models defines the core domain models for pipeline orchestration.
package models

import "time"

// Pipeline is a reusable, named definition of an ordered list of steps plus
// an optional cron schedule. Runs snapshot the step list at creation time,
// so later edits never alter in-flight or historical runs.
type Pipeline struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Owner       string         `json:"owner"`
	Steps       []PipelineStep `json:"steps"       validate:"required,min=1,dive"`
	Schedule    string         `json:"schedule,omitempty"` // cron expression, empty = on-demand only
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// PipelineStep is one step definition inside a pipeline.
type PipelineStep struct {
	Name        string         `json:"name"         validate:"required"`
	Type        StepType       `json:"type"         validate:"required"`
	Engine      EngineConfig   `json:"engine"`
	Query       string         `json:"query"        validate:"required"`
	Params      map[string]any `json:"params,omitempty"`
	MaxAttempts int            `json:"max_attempts" validate:"omitempty,min=1,max=10"`
	TimeoutMs   int            `json:"timeout_ms"   validate:"omitempty,min=1000,max=600000"`
}

type StepType string

const (
	StepTypeSQLQuery     StepType = "sql_query"
	StepTypeRedisCommand StepType = "redis_command"
	StepTypeHTTPRequest  StepType = "http_request"
)
