// Package services holds the application operations shared by the API, the
// scheduler and the worker: triggering, retrying and canceling runs, and
// reading run logs.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fluxline/fluxline/pkg/eventbus"
	"github.com/fluxline/fluxline/pkg/events"
	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence"
)

const defaultMaxAttempts = 3

type RunService struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewRunService(store persistence.Persistence, eventBus eventbus.EventBus, logger *slog.Logger) *RunService {
	return &RunService{
		persistence: store,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "run_service"),
	}
}

// TriggerRun validates the pipeline, materializes a run with its step
// snapshot in one transaction, and enqueues the run message. The caller
// gets the queued run back immediately; completion is observable only
// through run state transitions.
func (s *RunService) TriggerRun(ctx context.Context, pipelineID string) (*models.Run, error) {
	pipeline, err := s.persistence.PipelineByID(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	if !pipeline.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrPipelineDisabled, pipelineID)
	}

	err = s.validate.Struct(pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStep, err)
	}

	for ordinal, step := range pipeline.Steps {
		err = validateStep(ordinal, step)
		if err != nil {
			return nil, err
		}
	}

	run, steps, err := materializeRun(pipeline)
	if err != nil {
		return nil, err
	}

	err = s.persistence.CreateRun(ctx, run, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	err = s.enqueue(ctx, run)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Run queued",
		"run_id", run.ID,
		"pipeline_id", pipeline.ID,
		"steps", len(steps))

	return run, nil
}

// RetryRun creates a new run from a terminal run's step snapshot. The old
// run is never resumed or mutated.
func (s *RunService) RetryRun(ctx context.Context, runID string) (*models.Run, error) {
	previous, err := s.persistence.RunByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !previous.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunNotRetryable, runID, previous.Status)
	}

	previousSteps, err := s.persistence.StepsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	run, err := newRun(previous.PipelineID, previous.PipelineName)
	if err != nil {
		return nil, err
	}

	steps := make([]*models.Step, 0, len(previousSteps))

	for _, previousStep := range previousSteps {
		step, err := newStep(run.ID, previousStep.Ordinal, models.PipelineStep{
			Name:        previousStep.Name,
			Type:        previousStep.Type,
			Engine:      previousStep.Engine,
			Query:       previousStep.Query,
			Params:      previousStep.Params,
			MaxAttempts: previousStep.MaxAttempts,
			TimeoutMs:   previousStep.TimeoutMs,
		})
		if err != nil {
			return nil, err
		}

		steps = append(steps, step)
	}

	err = s.persistence.CreateRun(ctx, run, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry run: %w", err)
	}

	err = s.enqueue(ctx, run)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Retry run queued",
		"run_id", run.ID,
		"previous_run_id", runID)

	return run, nil
}

// CancelRun flags the run for cancellation. The worker observes the flag at
// step boundaries; an in-flight step runs to completion or its own timeout.
func (s *RunService) CancelRun(ctx context.Context, runID string) error {
	return s.persistence.RequestRunCancel(ctx, runID)
}

func (s *RunService) Run(ctx context.Context, runID string) (*models.Run, []*models.Step, error) {
	run, err := s.persistence.RunByID(ctx, runID)
	if err != nil {
		return nil, nil, err
	}

	steps, err := s.persistence.StepsByRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}

	return run, steps, nil
}

// Logs returns entries with seq greater than after plus the cursor for the
// next page.
func (s *RunService) Logs(ctx context.Context, runID string, after int64, limit int) ([]*models.LogEntry, int64, error) {
	entries, err := s.persistence.LogsAfter(ctx, runID, after, limit)
	if err != nil {
		return nil, 0, err
	}

	next := after
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq
	}

	return entries, next, nil
}

func (s *RunService) enqueue(ctx context.Context, run *models.Run) error {
	event := events.RunQueued{
		BaseEvent: events.NewBaseEvent(events.RunQueuedEvent, run.PipelineID),
		RunID:     run.ID,
	}

	err := s.eventBus.Publish(ctx, run.ID, event)
	if err != nil {
		return fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}

	return nil
}

func materializeRun(pipeline *models.Pipeline) (*models.Run, []*models.Step, error) {
	run, err := newRun(pipeline.ID, pipeline.Name)
	if err != nil {
		return nil, nil, err
	}

	steps := make([]*models.Step, 0, len(pipeline.Steps))

	for ordinal, definition := range pipeline.Steps {
		step, err := newStep(run.ID, ordinal, definition)
		if err != nil {
			return nil, nil, err
		}

		steps = append(steps, step)
	}

	return run, steps, nil
}

func newRun(pipelineID, pipelineName string) (*models.Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	return &models.Run{
		ID:           id.String(),
		PipelineID:   pipelineID,
		PipelineName: pipelineName,
		Status:       models.RunStatusQueued,
	}, nil
}

func newStep(runID string, ordinal int, definition models.PipelineStep) (*models.Step, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate step ID: %w", err)
	}

	maxAttempts := definition.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &models.Step{
		ID:          id.String(),
		RunID:       runID,
		Ordinal:     ordinal,
		Name:        definition.Name,
		Type:        definition.Type,
		Engine:      definition.Engine,
		Query:       definition.Query,
		Params:      definition.Params,
		Status:      models.StepStatusQueued,
		MaxAttempts: maxAttempts,
		TimeoutMs:   definition.TimeoutMs,
	}, nil
}
