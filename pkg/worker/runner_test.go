package worker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxline/fluxline/pkg/eventbus"
	"github.com/fluxline/fluxline/pkg/events"
	"github.com/fluxline/fluxline/pkg/executor"
	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence/memory"
)

// scriptedExecutor pops one scripted error per call for a query; an empty or
// exhausted script means success.
type scriptedExecutor struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		scripts: make(map[string][]error),
		calls:   make(map[string]int),
	}
}

func (e *scriptedExecutor) fail(query string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scripts[query] = append(e.scripts[query], errs...)
}

func (e *scriptedExecutor) callCount(query string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls[query]
}

func (e *scriptedExecutor) Execute(_ context.Context, _ models.EngineConfig, query string, _ int) (*executor.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls[query]++

	if script := e.scripts[query]; len(script) > 0 {
		err := script[0]
		e.scripts[query] = script[1:]

		return nil, err
	}

	return &executor.Result{RowCount: 1, DurationMs: 1}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

func newTestRunner(store *memory.Persistence, exec executor.Executor, bus eventbus.EventPublisher) *Runner {
	runner := NewRunner("worker-test", store, exec, bus, nil, slog.Default())
	runner.backoff = func(int) time.Duration { return 0 }

	return runner
}

func seedRun(t *testing.T, store *memory.Persistence, queries ...string) (*models.Run, []*models.Step) {
	t.Helper()

	ctx := context.Background()

	pipeline := &models.Pipeline{
		ID:      "pipe-1",
		Name:    "nightly-load",
		Enabled: true,
	}
	require.NoError(t, store.SavePipeline(ctx, pipeline))

	run := &models.Run{
		ID:           "run-1",
		PipelineID:   pipeline.ID,
		PipelineName: pipeline.Name,
		Status:       models.RunStatusQueued,
	}

	steps := make([]*models.Step, 0, len(queries))

	for ordinal, query := range queries {
		steps = append(steps, &models.Step{
			ID:          "step-" + query,
			RunID:       run.ID,
			Ordinal:     ordinal,
			Name:        query,
			Type:        models.StepTypeSQLQuery,
			Engine:      models.EngineConfig{Kind: models.EnginePostgres, Postgres: &models.PostgresConfig{DSN: "postgres://localhost/test"}},
			Query:       query,
			Status:      models.StepStatusQueued,
			MaxAttempts: 3,
		})
	}

	require.NoError(t, store.CreateRun(ctx, run, steps))

	return run, steps
}

func loadRun(t *testing.T, store *memory.Persistence, runID string) (*models.Run, []*models.Step) {
	t.Helper()

	ctx := context.Background()

	run, err := store.RunByID(ctx, runID)
	require.NoError(t, err)

	steps, err := store.StepsByRun(ctx, runID)
	require.NoError(t, err)

	return run, steps
}

func TestProcessRun_AllStepsSucceed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, _ := seedRun(t, store, "q1", "q2", "q3")

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	stored, steps := loadRun(t, store, run.ID)

	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.FinishedAt)

	for _, step := range steps {
		assert.Equal(t, models.StepStatusSucceeded, step.Status)
		assert.Equal(t, 1, step.Attempt)
		assert.Equal(t, int64(1), step.RowCount)
		assert.NotNil(t, step.FinishedAt)
	}

	types := bus.types()
	assert.Contains(t, types, events.RunStartedEvent)
	assert.Contains(t, types, events.RunFinishedEvent)
	assert.NotContains(t, types, events.RunFailedEvent)
}

func TestProcessRun_FailedStepSkipsRemaining(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, _ := seedRun(t, store, "q1", "q2", "q3")

	// Permanent error: the retry budget must not be consumed.
	exec.fail("q2", executor.ErrAuth)

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	stored, steps := loadRun(t, store, run.ID)

	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "authentication failed")

	assert.Equal(t, models.StepStatusSucceeded, steps[0].Status)
	assert.Equal(t, models.StepStatusFailed, steps[1].Status)
	assert.Equal(t, 1, steps[1].Attempt)
	assert.Equal(t, models.StepStatusSkipped, steps[2].Status)

	assert.Equal(t, 0, exec.callCount("q3"))
	assert.Contains(t, bus.types(), events.RunFailedEvent)
}

func TestProcessRun_TransientErrorRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, _ := seedRun(t, store, "q1")

	exec.fail("q1", executor.ErrConnection, executor.ErrConnection)

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	stored, steps := loadRun(t, store, run.ID)

	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	assert.Equal(t, models.StepStatusSucceeded, steps[0].Status)
	assert.Equal(t, 3, steps[0].Attempt)
	assert.Equal(t, 3, exec.callCount("q1"))
}

func TestProcessRun_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, _ := seedRun(t, store, "q1")

	exec.fail("q1", executor.ErrConnection, executor.ErrConnection, executor.ErrConnection)

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	stored, steps := loadRun(t, store, run.ID)

	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
	assert.Equal(t, 3, steps[0].Attempt)
	assert.Contains(t, stored.ErrorMessage, "connection failed")
}

func TestProcessRun_CancellationAtStepBoundary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, _ := seedRun(t, store, "q1", "q2")

	require.NoError(t, store.RequestRunCancel(ctx, run.ID))

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	stored, steps := loadRun(t, store, run.ID)

	assert.Equal(t, models.RunStatusCanceled, stored.Status)
	assert.Equal(t, models.StepStatusCanceled, steps[0].Status)
	assert.Equal(t, models.StepStatusCanceled, steps[1].Status)
	assert.Equal(t, 0, exec.callCount("q1"))
	assert.Contains(t, bus.types(), events.RunCanceledEvent)
}

func TestProcessRun_MissingRunIsDropped(t *testing.T) {
	store := memory.NewPersistence()

	err := newTestRunner(store, newScriptedExecutor(), &recordingPublisher{}).ProcessRun(context.Background(), "no-such-run")
	require.NoError(t, err)
}

func TestProcessRun_TerminalRunIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, _ := seedRun(t, store, "q1")

	stored, err := store.RunByID(ctx, run.ID)
	require.NoError(t, err)

	finishedAt := time.Now().UTC()
	stored.Status = models.RunStatusSucceeded
	stored.FinishedAt = &finishedAt
	require.NoError(t, store.UpdateRun(ctx, stored))

	err = newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, exec.callCount("q1"))
	assert.Empty(t, bus.types())
}

func TestProcessRun_RestartSkipsCompletedSteps(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, steps := seedRun(t, store, "q1", "q2")

	// Simulate a worker crash after the first step completed.
	finishedAt := time.Now().UTC()
	steps[0].Status = models.StepStatusSucceeded
	steps[0].Attempt = 1
	steps[0].FinishedAt = &finishedAt
	require.NoError(t, store.UpdateStep(ctx, steps[0]))

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	stored, reloaded := loadRun(t, store, run.ID)

	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	assert.Equal(t, 0, exec.callCount("q1"))
	assert.Equal(t, 1, exec.callCount("q2"))
	assert.Equal(t, 1, reloaded[0].Attempt)
	assert.Equal(t, models.StepStatusSucceeded, reloaded[1].Status)
}

func TestProcessRun_RestartAfterFailedStepSettlesRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, steps := seedRun(t, store, "q1", "q2")

	// Simulate a worker crash after the first step failed but before the
	// run was finalized.
	finishedAt := time.Now().UTC()
	steps[0].Status = models.StepStatusFailed
	steps[0].Attempt = 3
	steps[0].ErrorMessage = "connection failed: dial tcp: connection refused"
	steps[0].FinishedAt = &finishedAt
	require.NoError(t, store.UpdateStep(ctx, steps[0]))

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	stored, reloaded := loadRun(t, store, run.ID)

	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Equal(t, steps[0].ErrorMessage, stored.ErrorMessage)
	assert.Equal(t, models.StepStatusSkipped, reloaded[1].Status)
	assert.Equal(t, 0, exec.callCount("q1"))
	assert.Equal(t, 0, exec.callCount("q2"))
	assert.Contains(t, bus.types(), events.RunFailedEvent)
}

func TestProcessRun_RestartAfterCanceledStepFinalizesCanceled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, steps := seedRun(t, store, "q1", "q2")

	finishedAt := time.Now().UTC()
	steps[0].Status = models.StepStatusCanceled
	steps[0].FinishedAt = &finishedAt
	require.NoError(t, store.UpdateStep(ctx, steps[0]))

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	stored, reloaded := loadRun(t, store, run.ID)

	assert.Equal(t, models.RunStatusCanceled, stored.Status)
	assert.Equal(t, models.StepStatusCanceled, reloaded[1].Status)
	assert.Equal(t, 0, exec.callCount("q2"))
	assert.Contains(t, bus.types(), events.RunCanceledEvent)
}

func TestProcessRun_WritesRunLogs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	exec := newScriptedExecutor()
	bus := &recordingPublisher{}

	run, _ := seedRun(t, store, "q1")

	exec.fail("q1", executor.ErrConnection)

	err := newTestRunner(store, exec, bus).ProcessRun(ctx, run.ID)
	require.NoError(t, err)

	entries, err := store.LogsAfter(ctx, run.ID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var previous int64

	messages := make([]string, 0, len(entries))

	for _, entry := range entries {
		assert.Greater(t, entry.Seq, previous)
		previous = entry.Seq
		messages = append(messages, entry.Message)
	}

	assert.Contains(t, messages, "Step started")
	assert.Contains(t, messages, "Step attempt failed")
	assert.Contains(t, messages, "Step succeeded")
}
