package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence"
)

// PipelineRepository handles pipeline-related database operations.
type PipelineRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPipelineRepository(db *sql.DB, logger *slog.Logger) *PipelineRepository {
	return &PipelineRepository{db: db, logger: logger}
}

const pipelineColumns = `
	id
  , name
  , description
  , owner
  , steps
  , schedule
  , timezone
  , enabled
  , created_at
  , updated_at
  , deleted_at
`

func (r *PipelineRepository) GetAll(ctx context.Context) ([]*models.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE deleted_at IS NULL ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	pipelines := make([]*models.Pipeline, 0)

	for rows.Next() {
		pipeline, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}

		pipelines = append(pipelines, pipeline)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating pipelines: %w", err)
	}

	return pipelines, nil
}

func (r *PipelineRepository) GetByID(ctx context.Context, id string) (*models.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE id = $1 AND deleted_at IS NULL`

	pipeline, err := scanPipeline(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrPipelineNotFound
		}

		return nil, fmt.Errorf("failed to scan pipeline: %w", err)
	}

	return pipeline, nil
}

func (r *PipelineRepository) Save(ctx context.Context, pipeline *models.Pipeline) error {
	now := time.Now().UTC()

	if pipeline.CreatedAt.IsZero() {
		pipeline.CreatedAt = now
	}

	pipeline.UpdatedAt = now

	if pipeline.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate pipeline ID: %w", err)
		}

		pipeline.ID = id.String()
	}

	stepsJSON, err := json.Marshal(pipeline.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline steps: %w", err)
	}

	query := `
		INSERT INTO pipelines (id, name, description, owner, steps, schedule, timezone, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , owner = EXCLUDED.owner
		  , steps = EXCLUDED.steps
		  , schedule = EXCLUDED.schedule
		  , timezone = EXCLUDED.timezone
		  , enabled = EXCLUDED.enabled
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		pipeline.ID,
		pipeline.Name,
		pipeline.Description,
		pipeline.Owner,
		stepsJSON,
		pipeline.Schedule,
		pipeline.Timezone,
		pipeline.Enabled,
		pipeline.CreatedAt,
		pipeline.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pipeline: %w", err)
	}

	return nil
}

// Delete soft deletes a pipeline by setting deleted_at. Existing runs keep
// their step snapshots and remain readable.
func (r *PipelineRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE pipelines SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrPipelineNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row rowScanner) (*models.Pipeline, error) {
	var (
		pipeline  models.Pipeline
		stepsJSON []byte
	)

	err := row.Scan(
		&pipeline.ID,
		&pipeline.Name,
		&pipeline.Description,
		&pipeline.Owner,
		&stepsJSON,
		&pipeline.Schedule,
		&pipeline.Timezone,
		&pipeline.Enabled,
		&pipeline.CreatedAt,
		&pipeline.UpdatedAt,
		&pipeline.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(stepsJSON, &pipeline.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline steps: %w", err)
	}

	return &pipeline, nil
}
