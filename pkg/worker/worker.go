// Package worker consumes queued run messages and drives each run's state
// machine. Runs process concurrently up to a configured bound; steps within
// one run are strictly sequential.
package worker

import (
	"context"
	"log/slog"

	"github.com/fluxline/fluxline/pkg/eventbus"
	"github.com/fluxline/fluxline/pkg/events"
)

const DefaultConcurrency = 2

type Worker struct {
	id       string
	logger   *slog.Logger
	eventBus eventbus.EventBus
	runner   *Runner
	slots    chan struct{}
}

func NewWorker(id string, eventBus eventbus.EventBus, runner *Runner, logger *slog.Logger, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Worker{
		id:       id,
		logger:   logger.With("module", "worker", "worker_id", id),
		eventBus: eventBus,
		runner:   runner,
		slots:    make(chan struct{}, concurrency),
	}
}

// Start registers the run.queued handler and blocks until the context is
// canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker", "concurrency", cap(w.slots))

	err := w.eventBus.Handle(events.RunQueuedEvent, w.handleRunQueued)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.Info("Shutting down worker...")

	return nil
}

// handleRunQueued acquires a concurrency slot and processes the run in its
// own goroutine. The message is consumed regardless of the run outcome:
// failed runs are retried only through the explicit retry operation.
func (w *Worker) handleRunQueued(ctx context.Context, event any) error {
	queued, ok := event.(*events.RunQueued)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunQueued")

		return nil
	}

	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	go func() {
		defer func() { <-w.slots }()

		err := w.runner.ProcessRun(ctx, queued.RunID)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to process run",
				"run_id", queued.RunID,
				"error", err)
		}
	}()

	return nil
}
