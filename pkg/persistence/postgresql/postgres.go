// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	pipelineRepo *PipelineRepository
	runRepo      *RunRepository
	logRepo      *LogRepository
}

// NewPersistence opens the database, runs migrations and wires repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		pipelineRepo: NewPipelineRepository(database, logger),
		runRepo:      NewRunRepository(database, logger),
		logRepo:      NewLogRepository(database, logger),
	}, nil
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Pipelines(ctx context.Context) ([]*models.Pipeline, error) {
	return p.pipelineRepo.GetAll(ctx)
}

func (p *Persistence) PipelineByID(ctx context.Context, id string) (*models.Pipeline, error) {
	return p.pipelineRepo.GetByID(ctx, id)
}

func (p *Persistence) SavePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	return p.pipelineRepo.Save(ctx, pipeline)
}

func (p *Persistence) DeletePipeline(ctx context.Context, id string) error {
	return p.pipelineRepo.Delete(ctx, id)
}

func (p *Persistence) CreateRun(ctx context.Context, run *models.Run, steps []*models.Step) error {
	return p.runRepo.Create(ctx, run, steps)
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	return p.runRepo.GetByID(ctx, id)
}

func (p *Persistence) UpdateRun(ctx context.Context, run *models.Run) error {
	return p.runRepo.Update(ctx, run)
}

func (p *Persistence) RequestRunCancel(ctx context.Context, runID string) error {
	return p.runRepo.RequestCancel(ctx, runID)
}

func (p *Persistence) StepsByRun(ctx context.Context, runID string) ([]*models.Step, error) {
	return p.runRepo.StepsByRun(ctx, runID)
}

func (p *Persistence) UpdateStep(ctx context.Context, step *models.Step) error {
	return p.runRepo.UpdateStep(ctx, step)
}

func (p *Persistence) TouchStepHeartbeat(ctx context.Context, stepID string, at time.Time) error {
	return p.runRepo.TouchStepHeartbeat(ctx, stepID, at)
}

func (p *Persistence) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	return p.logRepo.Append(ctx, entry)
}

func (p *Persistence) LogsAfter(ctx context.Context, runID string, after int64, limit int) ([]*models.LogEntry, error) {
	return p.logRepo.After(ctx, runID, after, limit)
}
