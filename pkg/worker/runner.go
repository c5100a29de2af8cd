package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxline/fluxline/pkg/eventbus"
	"github.com/fluxline/fluxline/pkg/events"
	"github.com/fluxline/fluxline/pkg/executor"
	"github.com/fluxline/fluxline/pkg/intel"
	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/otelhelper"
	"github.com/fluxline/fluxline/pkg/persistence"
)

const defaultHeartbeatInterval = 5 * time.Second

// Runner drives one run's state machine to completion, failure or
// cancellation. Steps execute strictly sequentially in ordinal order; the
// run's cancellation flag is observed at step boundaries only.
type Runner struct {
	workerID     string
	persistence  persistence.Persistence
	executor     executor.Executor
	eventBus     eventbus.EventPublisher
	orchestrator *intel.Orchestrator
	logger       *slog.Logger
	tracer       trace.Tracer

	backoff           func(attempt int) time.Duration
	heartbeatInterval time.Duration
}

func NewRunner(
	workerID string,
	store persistence.Persistence,
	exec executor.Executor,
	eventBus eventbus.EventPublisher,
	orchestrator *intel.Orchestrator,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		workerID:          workerID,
		persistence:       store,
		executor:          exec,
		eventBus:          eventBus,
		orchestrator:      orchestrator,
		logger:            logger.With("module", "runner", "worker_id", workerID),
		backoff:           Backoff,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// WithTracer enables per-run and per-attempt spans.
func (r *Runner) WithTracer(tracer trace.Tracer) *Runner {
	r.tracer = tracer

	return r
}

// ProcessRun consumes one dequeued run message. It always returns nil: a
// missing run is dropped, and an infrastructure error aborts the run as
// failed without redelivering the message. Operators retry explicitly via
// the retry operation, which creates a new run.
func (r *Runner) ProcessRun(ctx context.Context, runID string) error {
	logger := r.logger.With("run_id", runID)

	if r.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, r.tracer, "run.process",
			attribute.String(otelhelper.RunIDKey, runID))
		defer span.End()
	}

	run, err := r.persistence.RunByID(ctx, runID)
	if err != nil {
		if persistence.IsNotFound(err) {
			logger.WarnContext(ctx, "Dropping message for missing run")

			return nil
		}

		logger.ErrorContext(ctx, "Failed to load run", "error", err)

		return nil
	}

	if run.Terminal() {
		logger.InfoContext(ctx, "Run already terminal, nothing to do", "status", run.Status)

		return nil
	}

	startedAt := time.Now().UTC()
	run.Status = models.RunStatusRunning
	run.StartedAt = &startedAt

	err = r.persistence.UpdateRun(ctx, run)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to transition run to running", "error", err)

		return nil
	}

	r.publish(ctx, run.ID, events.RunStarted{
		BaseEvent: r.baseEvent(events.RunStartedEvent, run.PipelineID),
		RunID:     run.ID,
	})

	steps, err := r.persistence.StepsByRun(ctx, run.ID)
	if err != nil {
		r.abortRun(ctx, logger, run, fmt.Sprintf("failed to load steps: %v", err))

		return nil
	}

	var failedStep *models.Step

	canceled := false

	for _, step := range steps {
		stepLogger := logger.With("step_id", step.ID, "ordinal", step.Ordinal)

		if !canceled && failedStep == nil {
			canceled, err = r.cancelRequested(ctx, run.ID)
			if err != nil {
				r.abortRun(ctx, logger, run, fmt.Sprintf("failed to observe cancellation flag: %v", err))

				return nil
			}
		}

		switch {
		case canceled:
			r.settleRemaining(ctx, stepLogger, run, step, models.StepStatusCanceled)
		case failedStep != nil:
			r.settleRemaining(ctx, stepLogger, run, step, models.StepStatusSkipped)
		case step.Terminal():
			// Restart safety: completed work is never redone. A step that
			// already ended failed or canceled still settles the rest of
			// the run.
			stepLogger.InfoContext(ctx, "Step already terminal, skipping", "status", step.Status)

			if step.Status == models.StepStatusFailed {
				failedStep = step
			} else if step.Status == models.StepStatusCanceled {
				canceled = true
			}
		default:
			err = r.executeStep(ctx, stepLogger, run, step)
			if err != nil {
				failedStep = step
			}
		}
	}

	r.finalizeRun(ctx, logger, run, failedStep, canceled)

	return nil
}

// executeStep runs the attempt loop for a single step. Transient failures
// consume the retry budget with exponential backoff; permanent failures
// (auth, malformed query) stop the loop early.
func (r *Runner) executeStep(ctx context.Context, logger *slog.Logger, run *models.Run, step *models.Step) error {
	for step.Attempt < step.MaxAttempts {
		step.Attempt++

		startedAt := time.Now().UTC()
		step.Status = models.StepStatusRunning
		step.StartedAt = &startedAt
		step.HeartbeatAt = &startedAt

		err := r.persistence.UpdateStep(ctx, step)
		if err != nil {
			return fmt.Errorf("failed to persist step start: %w", err)
		}

		r.appendLog(ctx, run.ID, step.ID, models.LogLevelInfo, "Step started", map[string]any{
			"attempt":      step.Attempt,
			"max_attempts": step.MaxAttempts,
		})
		r.publish(ctx, run.ID, events.StepStarted{
			BaseEvent: r.baseEvent(events.StepStartedEvent, run.PipelineID),
			RunID:     run.ID,
			StepID:    step.ID,
			Attempt:   step.Attempt,
		})

		result, err := r.executeAttempt(ctx, step)
		if err == nil {
			finishedAt := time.Now().UTC()
			step.Status = models.StepStatusSucceeded
			step.FinishedAt = &finishedAt
			step.ErrorMessage = ""
			step.RowCount = result.RowCount
			step.DurationMs = result.DurationMs

			updateErr := r.persistence.UpdateStep(ctx, step)
			if updateErr != nil {
				return fmt.Errorf("failed to persist step success: %w", updateErr)
			}

			r.appendLog(ctx, run.ID, step.ID, models.LogLevelInfo, "Step succeeded", map[string]any{
				"attempt":     step.Attempt,
				"row_count":   result.RowCount,
				"duration_ms": result.DurationMs,
			})
			r.publish(ctx, run.ID, events.StepFinished{
				BaseEvent:  r.baseEvent(events.StepFinishedEvent, run.PipelineID),
				RunID:      run.ID,
				StepID:     step.ID,
				RowCount:   result.RowCount,
				DurationMs: result.DurationMs,
			})

			return nil
		}

		step.ErrorMessage = err.Error()

		updateErr := r.persistence.UpdateStep(ctx, step)
		if updateErr != nil {
			return fmt.Errorf("failed to persist step failure: %w", updateErr)
		}

		r.appendLog(ctx, run.ID, step.ID, models.LogLevelError, "Step attempt failed", map[string]any{
			"attempt": step.Attempt,
			"error":   err.Error(),
		})
		r.publish(ctx, run.ID, events.StepFailed{
			BaseEvent: r.baseEvent(events.StepFailedEvent, run.PipelineID),
			RunID:     run.ID,
			StepID:    step.ID,
			Attempt:   step.Attempt,
			Error:     err.Error(),
		})

		if !executor.Retryable(err) {
			logger.WarnContext(ctx, "Permanent step error, not retrying", "error", err)

			break
		}

		if step.Attempt < step.MaxAttempts {
			delay := r.backoff(step.Attempt)
			logger.InfoContext(ctx, "Backing off before retry",
				"attempt", step.Attempt,
				"delay", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}

			if ctx.Err() != nil {
				break
			}
		}
	}

	finishedAt := time.Now().UTC()
	step.Status = models.StepStatusFailed
	step.FinishedAt = &finishedAt

	err := r.persistence.UpdateStep(ctx, step)
	if err != nil {
		return fmt.Errorf("failed to persist step failure: %w", err)
	}

	r.appendLog(ctx, run.ID, step.ID, models.LogLevelError, "Step failed after exhausting attempts", map[string]any{
		"attempt": step.Attempt,
		"error":   step.ErrorMessage,
	})

	return errors.New(step.ErrorMessage)
}

// executeAttempt invokes the executor with a heartbeat ticker running for
// the duration of the call.
func (r *Runner) executeAttempt(ctx context.Context, step *models.Step) (*executor.Result, error) {
	if r.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, r.tracer, "step.attempt",
			attribute.String(otelhelper.StepIDKey, step.ID),
			attribute.Int(otelhelper.AttemptKey, step.Attempt))
		defer span.End()
	}

	stop := r.startHeartbeat(ctx, step.ID)
	defer stop()

	return r.executor.Execute(ctx, step.Engine, step.Query, step.TimeoutMs)
}

func (r *Runner) startHeartbeat(ctx context.Context, stepID string) func() {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				err := r.persistence.TouchStepHeartbeat(ctx, stepID, at.UTC())
				if err != nil {
					r.logger.WarnContext(ctx, "Failed to write step heartbeat",
						"step_id", stepID,
						"error", err)
				}
			}
		}
	}()

	return func() { close(done) }
}

// settleRemaining transitions an un-started step to canceled or skipped.
// Already-terminal steps are left untouched.
func (r *Runner) settleRemaining(ctx context.Context, logger *slog.Logger, run *models.Run, step *models.Step, status models.StepStatus) {
	if step.Terminal() {
		return
	}

	finishedAt := time.Now().UTC()
	step.Status = status
	step.FinishedAt = &finishedAt

	err := r.persistence.UpdateStep(ctx, step)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to settle step", "status", status, "error", err)

		return
	}

	r.appendLog(ctx, run.ID, step.ID, models.LogLevelInfo, "Step "+string(status), nil)
}

func (r *Runner) cancelRequested(ctx context.Context, runID string) (bool, error) {
	run, err := r.persistence.RunByID(ctx, runID)
	if err != nil {
		return false, err
	}

	return run.CancelRequested, nil
}

func (r *Runner) finalizeRun(ctx context.Context, logger *slog.Logger, run *models.Run, failedStep *models.Step, canceled bool) {
	finishedAt := time.Now().UTC()
	run.FinishedAt = &finishedAt

	switch {
	case canceled:
		run.Status = models.RunStatusCanceled
	case failedStep != nil:
		run.Status = models.RunStatusFailed
		run.ErrorMessage = failedStep.ErrorMessage
	default:
		run.Status = models.RunStatusSucceeded
	}

	err := r.persistence.UpdateRun(ctx, run)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to finalize run", "status", run.Status, "error", err)

		return
	}

	logger.InfoContext(ctx, "Run finished", "status", run.Status)

	switch run.Status {
	case models.RunStatusCanceled:
		r.publish(ctx, run.ID, events.RunCanceled{
			BaseEvent: r.baseEvent(events.RunCanceledEvent, run.PipelineID),
			RunID:     run.ID,
		})
	case models.RunStatusFailed:
		failure := models.FailureEvent{
			PipelineID:    run.PipelineID,
			PipelineName:  run.PipelineName,
			RunID:         run.ID,
			ErrorMessage:  run.ErrorMessage,
			Timestamp:     finishedAt,
			AttemptNumber: 1,
		}
		if failedStep != nil {
			failure.StepID = failedStep.ID
			failure.AttemptNumber = failedStep.Attempt
		}

		r.publish(ctx, run.ID, events.RunFailed{
			BaseEvent: r.baseEvent(events.RunFailedEvent, run.PipelineID),
			RunID:     run.ID,
			Error:     run.ErrorMessage,
			Failure:   failure,
		})

		if r.orchestrator != nil {
			outcome, intelErr := r.orchestrator.HandleFailure(ctx, failure)
			if intelErr != nil {
				logger.ErrorContext(ctx, "Failure intelligence errored", "error", intelErr)
			} else {
				logger.InfoContext(ctx, "Failure intelligence completed",
					"category", outcome.Classification.Category,
					"remediated", outcome.Remediated,
					"incident_id", outcome.Incident.ID,
					"ticket_id", outcome.Ticket.ID)
			}
		}
	case models.RunStatusSucceeded:
		var duration time.Duration
		if run.StartedAt != nil {
			duration = finishedAt.Sub(*run.StartedAt)
		}

		r.publish(ctx, run.ID, events.RunFinished{
			BaseEvent: r.baseEvent(events.RunFinishedEvent, run.PipelineID),
			RunID:     run.ID,
			Duration:  duration,
		})
	case models.RunStatusQueued, models.RunStatusRunning:
		// Unreachable: finalize only sets terminal states.
	}
}

// abortRun handles infrastructure errors while driving a run: the run is
// failed with the error message and the message stays consumed.
func (r *Runner) abortRun(ctx context.Context, logger *slog.Logger, run *models.Run, message string) {
	finishedAt := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.ErrorMessage = message
	run.FinishedAt = &finishedAt

	err := r.persistence.UpdateRun(ctx, run)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to abort run", "error", err)

		return
	}

	logger.ErrorContext(ctx, "Run aborted", "reason", message)
}

func (r *Runner) appendLog(ctx context.Context, runID, stepID string, level models.LogLevel, message string, data map[string]any) {
	err := r.persistence.AppendLog(ctx, &models.LogEntry{
		RunID:   runID,
		StepID:  stepID,
		Level:   level,
		Message: message,
		Data:    data,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to append run log",
			"run_id", runID,
			"step_id", stepID,
			"error", err)
	}
}

func (r *Runner) publish(ctx context.Context, key string, event eventbus.Event) {
	if r.eventBus == nil {
		return
	}

	err := r.eventBus.Publish(ctx, key, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}

func (r *Runner) baseEvent(eventType events.EventType, pipelineID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, pipelineID)
	base.WorkerID = r.workerID

	return base
}
