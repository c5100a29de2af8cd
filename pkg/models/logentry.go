package models

import "time"

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is an append-only record associated with a step of a run.
// Seq is strictly increasing within a run and is assigned by the
// persistence layer at insert time, never by callers.
type LogEntry struct {
	RunID     string         `json:"run_id"  validate:"required"`
	StepID    string         `json:"step_id,omitempty"`
	Seq       int64          `json:"seq"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
