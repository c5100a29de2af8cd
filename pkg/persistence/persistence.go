// Package persistence defines the storage contract for pipelines, runs,
// steps and run logs. It is the single source of truth for state
// transitions; all writes for one logical operation are transactional.
package persistence

import (
	"context"
	"time"

	"github.com/fluxline/fluxline/pkg/models"
)

type Persistence interface {
	// Pipelines.
	Pipelines(ctx context.Context) ([]*models.Pipeline, error)
	PipelineByID(ctx context.Context, id string) (*models.Pipeline, error)
	SavePipeline(ctx context.Context, pipeline *models.Pipeline) error
	DeletePipeline(ctx context.Context, id string) error

	// Runs and steps. CreateRun persists the run and its materialized step
	// snapshot in a single transaction: no partial writes.
	CreateRun(ctx context.Context, run *models.Run, steps []*models.Step) error
	RunByID(ctx context.Context, id string) (*models.Run, error)
	UpdateRun(ctx context.Context, run *models.Run) error
	RequestRunCancel(ctx context.Context, runID string) error
	StepsByRun(ctx context.Context, runID string) ([]*models.Step, error)
	UpdateStep(ctx context.Context, step *models.Step) error
	TouchStepHeartbeat(ctx context.Context, stepID string, at time.Time) error

	// Logs. AppendLog assigns the per-run sequence number; entries are
	// append-only and strictly increasing within a run.
	AppendLog(ctx context.Context, entry *models.LogEntry) error
	LogsAfter(ctx context.Context, runID string, after int64, limit int) ([]*models.LogEntry, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
