//go:build integration
// +build integration

package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func setupTestDB(t *testing.T) (*Persistence, context.Context) {
	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("fluxline_test"),
			postgres.WithUsername("fluxline"),
			postgres.WithPassword("fluxline"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	return store, ctx
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	_, err = db.Exec("TRUNCATE TABLE run_logs, steps, runs, pipelines CASCADE")
	require.NoError(t, err)
}

func testPipeline(id string) *models.Pipeline {
	return &models.Pipeline{
		ID:      id,
		Name:    "pipeline-" + id,
		Owner:   "data-eng",
		Enabled: true,
		Steps: []models.PipelineStep{
			{
				Name:  "extract",
				Type:  models.StepTypeSQLQuery,
				Query: "SELECT 1",
				Engine: models.EngineConfig{
					Kind:     models.EnginePostgres,
					Postgres: &models.PostgresConfig{DSN: "postgres://localhost/warehouse"},
				},
			},
		},
	}
}

func testRun(runID, pipelineID string, stepCount int) (*models.Run, []*models.Step) {
	run := &models.Run{
		ID:         runID,
		PipelineID: pipelineID,
		Status:     models.RunStatusQueued,
	}

	steps := make([]*models.Step, 0, stepCount)
	for i := 0; i < stepCount; i++ {
		steps = append(steps, &models.Step{
			ID:      runID + "-step-" + string(rune('a'+i)),
			RunID:   runID,
			Ordinal: i,
			Name:    "step",
			Type:    models.StepTypeSQLQuery,
			Engine: models.EngineConfig{
				Kind:     models.EnginePostgres,
				Postgres: &models.PostgresConfig{DSN: "postgres://localhost/warehouse"},
			},
			Query:       "SELECT 1",
			Status:      models.StepStatusQueued,
			MaxAttempts: 3,
		})
	}

	return run, steps
}

func TestPipelineRoundTrip(t *testing.T) {
	store, ctx := setupTestDB(t)

	pipeline := testPipeline("pipe-1")
	require.NoError(t, store.SavePipeline(ctx, pipeline))

	loaded, err := store.PipelineByID(ctx, "pipe-1")
	require.NoError(t, err)

	assert.Equal(t, pipeline.Name, loaded.Name)
	assert.Equal(t, pipeline.Owner, loaded.Owner)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, models.EnginePostgres, loaded.Steps[0].Engine.Kind)

	// Upsert updates in place.
	pipeline.Description = "updated"
	require.NoError(t, store.SavePipeline(ctx, pipeline))

	loaded, err = store.PipelineByID(ctx, "pipe-1")
	require.NoError(t, err)
	assert.Equal(t, "updated", loaded.Description)

	require.NoError(t, store.DeletePipeline(ctx, "pipe-1"))

	_, err = store.PipelineByID(ctx, "pipe-1")
	require.ErrorIs(t, err, persistence.ErrPipelineNotFound)
}

func TestCreateRun_Transactional(t *testing.T) {
	store, ctx := setupTestDB(t)

	require.NoError(t, store.SavePipeline(ctx, testPipeline("pipe-1")))

	run, steps := testRun("run-1", "pipe-1", 2)
	require.NoError(t, store.CreateRun(ctx, run, steps))

	loaded, err := store.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, loaded.Status)

	loadedSteps, err := store.StepsByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, loadedSteps, 2)
	assert.Equal(t, 0, loadedSteps[0].Ordinal)
	assert.Equal(t, 1, loadedSteps[1].Ordinal)

	// Duplicate run id.
	dup, dupSteps := testRun("run-1", "pipe-1", 1)
	err = store.CreateRun(ctx, dup, dupSteps)
	require.Error(t, err)
	assert.True(t, persistence.IsAlreadyExists(err))
}

func TestCreateRun_MissingPipeline(t *testing.T) {
	store, ctx := setupTestDB(t)

	run, steps := testRun("run-1", "ghost", 1)
	err := store.CreateRun(ctx, run, steps)
	require.ErrorIs(t, err, persistence.ErrPipelineNotFound)

	// Nothing was committed.
	_, err = store.RunByID(ctx, "run-1")
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestRequestRunCancel(t *testing.T) {
	store, ctx := setupTestDB(t)

	require.NoError(t, store.SavePipeline(ctx, testPipeline("pipe-1")))

	run, steps := testRun("run-1", "pipe-1", 1)
	require.NoError(t, store.CreateRun(ctx, run, steps))

	require.NoError(t, store.RequestRunCancel(ctx, "run-1"))

	loaded, err := store.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, loaded.CancelRequested)

	err = store.RequestRunCancel(ctx, "ghost")
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestAppendLog_ConcurrentWritersKeepSeqGapFree(t *testing.T) {
	store, ctx := setupTestDB(t)

	require.NoError(t, store.SavePipeline(ctx, testPipeline("pipe-1")))

	run, steps := testRun("run-1", "pipe-1", 1)
	require.NoError(t, store.CreateRun(ctx, run, steps))

	const writers = 8

	const perWriter = 5

	var wg sync.WaitGroup

	for w := 0; w < writers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < perWriter; i++ {
				_ = store.AppendLog(ctx, &models.LogEntry{
					RunID:   "run-1",
					Level:   models.LogLevelInfo,
					Message: "concurrent",
				})
			}
		}()
	}

	wg.Wait()

	entries, err := store.LogsAfter(ctx, "run-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq)
	}
}

func TestUpdateStepAndHeartbeat(t *testing.T) {
	store, ctx := setupTestDB(t)

	require.NoError(t, store.SavePipeline(ctx, testPipeline("pipe-1")))

	run, steps := testRun("run-1", "pipe-1", 1)
	require.NoError(t, store.CreateRun(ctx, run, steps))

	step := steps[0]
	step.Status = models.StepStatusSucceeded
	step.Attempt = 2
	step.RowCount = 42
	require.NoError(t, store.UpdateStep(ctx, step))

	loaded, err := store.StepsByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusSucceeded, loaded[0].Status)
	assert.Equal(t, 2, loaded[0].Attempt)
	assert.Equal(t, int64(42), loaded[0].RowCount)
}
