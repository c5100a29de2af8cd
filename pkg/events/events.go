// Package events defines event types for run lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/fluxline/fluxline/pkg/models"
)

type EventType string

const Topic = "fluxline.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// RunQueuedEvent is the job message: {runId} enqueued by the scheduler
	// or by the trigger/retry API operations.
	RunQueuedEvent   EventType = "run.queued"
	RunStartedEvent  EventType = "run.started"
	RunFinishedEvent EventType = "run.finished"
	RunFailedEvent   EventType = "run.failed"
	RunCanceledEvent EventType = "run.canceled"

	StepStartedEvent  EventType = "step.started"
	StepFinishedEvent EventType = "step.finished"
	StepFailedEvent   EventType = "step.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	PipelineID string         `json:"pipeline_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, pipelineID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		PipelineID: pipelineID,
	}
}

type RunQueued struct {
	BaseEvent

	RunID string `json:"run_id"`
}

func (r RunQueued) GetType() EventType {
	return RunQueuedEvent
}

type RunStarted struct {
	BaseEvent

	RunID string `json:"run_id"`
}

func (r RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunFinished struct {
	BaseEvent

	RunID    string        `json:"run_id"`
	Duration time.Duration `json:"duration"`
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type RunFailed struct {
	BaseEvent

	RunID   string              `json:"run_id"`
	Error   string              `json:"error"`
	Failure models.FailureEvent `json:"failure"`
}

func (r RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCanceled struct {
	BaseEvent

	RunID string `json:"run_id"`
}

func (r RunCanceled) GetType() EventType {
	return RunCanceledEvent
}

type StepStarted struct {
	BaseEvent

	RunID   string `json:"run_id"`
	StepID  string `json:"step_id"`
	Attempt int    `json:"attempt"`
}

func (s StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepFinished struct {
	BaseEvent

	RunID      string `json:"run_id"`
	StepID     string `json:"step_id"`
	RowCount   int64  `json:"row_count"`
	DurationMs int64  `json:"duration_ms"`
}

func (s StepFinished) GetType() EventType {
	return StepFinishedEvent
}

type StepFailed struct {
	BaseEvent

	RunID   string `json:"run_id"`
	StepID  string `json:"step_id"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

func (s StepFailed) GetType() EventType {
	return StepFailedEvent
}
