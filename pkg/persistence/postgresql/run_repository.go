package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// RunRepository handles run and step database operations. A run and its
// step snapshot are created in one transaction.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) Create(ctx context.Context, run *models.Run, steps []*models.Step) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline_id, pipeline_name, status, cancel_requested, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		run.ID,
		run.PipelineID,
		run.PipelineName,
		run.Status,
		run.CancelRequested,
		run.ErrorMessage,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", translateConstraint(err, persistence.ErrRunAlreadyExists))
	}

	for _, step := range steps {
		err = insertStep(ctx, tx, step)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit run creation: %w", err)
	}

	return nil
}

func insertStep(ctx context.Context, tx *sql.Tx, step *models.Step) error {
	engineJSON, err := json.Marshal(step.Engine)
	if err != nil {
		return fmt.Errorf("failed to marshal step engine: %w", err)
	}

	paramsJSON, err := json.Marshal(step.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal step params: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (id, run_id, ordinal, name, type, engine, query, params, status, attempt, max_attempts, timeout_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		step.ID,
		step.RunID,
		step.Ordinal,
		step.Name,
		step.Type,
		engineJSON,
		step.Query,
		paramsJSON,
		step.Status,
		step.Attempt,
		step.MaxAttempts,
		step.TimeoutMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", step.Ordinal, translateConstraint(err, persistence.ErrStepAlreadyExists))
	}

	return nil
}

// translateConstraint maps PostgreSQL constraint violations to the shared
// persistence error kinds: unique violations to "already exists" and
// foreign key violations to "not found".
func translateConstraint(err error, duplicate error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case pqUniqueViolation:
		return duplicate
	case pqForeignKeyViolation:
		return persistence.ErrPipelineNotFound
	default:
		return err
	}
}

const runColumns = `
	id
  , pipeline_id
  , pipeline_name
  , status
  , cancel_requested
  , error_message
  , created_at
  , started_at
  , finished_at
`

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run

	err := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id).Scan(
		&run.ID,
		&run.PipelineID,
		&run.PipelineName,
		&run.Status,
		&run.CancelRequested,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return &run, nil
}

func (r *RunRepository) Update(ctx context.Context, run *models.Run) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE runs SET
			status = $2
		  , error_message = $3
		  , started_at = $4
		  , finished_at = $5
		WHERE id = $1
	`,
		run.ID,
		run.Status,
		run.ErrorMessage,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return requireAffected(result, persistence.ErrRunNotFound)
}

func (r *RunRepository) RequestCancel(ctx context.Context, runID string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE runs SET cancel_requested = TRUE WHERE id = $1", runID)
	if err != nil {
		return fmt.Errorf("failed to request run cancel: %w", err)
	}

	return requireAffected(result, persistence.ErrRunNotFound)
}

func (r *RunRepository) StepsByRun(ctx context.Context, runID string) ([]*models.Step, error) {
	_, err := r.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT
			id
		  , run_id
		  , ordinal
		  , name
		  , type
		  , engine
		  , query
		  , params
		  , status
		  , attempt
		  , max_attempts
		  , timeout_ms
		  , error_message
		  , row_count
		  , duration_ms
		  , heartbeat_at
		  , started_at
		  , finished_at
		FROM steps
		WHERE run_id = $1
		ORDER BY ordinal ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.Step, 0)

	for rows.Next() {
		var (
			step       models.Step
			engineJSON []byte
			paramsJSON []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Ordinal,
			&step.Name,
			&step.Type,
			&engineJSON,
			&step.Query,
			&paramsJSON,
			&step.Status,
			&step.Attempt,
			&step.MaxAttempts,
			&step.TimeoutMs,
			&step.ErrorMessage,
			&step.RowCount,
			&step.DurationMs,
			&step.HeartbeatAt,
			&step.StartedAt,
			&step.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		err = json.Unmarshal(engineJSON, &step.Engine)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step engine: %w", err)
		}

		err = json.Unmarshal(paramsJSON, &step.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step params: %w", err)
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (r *RunRepository) UpdateStep(ctx context.Context, step *models.Step) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE steps SET
			status = $2
		  , attempt = $3
		  , timeout_ms = $4
		  , error_message = $5
		  , row_count = $6
		  , duration_ms = $7
		  , heartbeat_at = $8
		  , started_at = $9
		  , finished_at = $10
		WHERE id = $1
	`,
		step.ID,
		step.Status,
		step.Attempt,
		step.TimeoutMs,
		step.ErrorMessage,
		step.RowCount,
		step.DurationMs,
		step.HeartbeatAt,
		step.StartedAt,
		step.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}

	return requireAffected(result, persistence.ErrStepNotFound)
}

func (r *RunRepository) TouchStepHeartbeat(ctx context.Context, stepID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE steps SET heartbeat_at = $2 WHERE id = $1", stepID, at)
	if err != nil {
		return fmt.Errorf("failed to touch step heartbeat: %w", err)
	}

	return requireAffected(result, persistence.ErrStepNotFound)
}

func requireAffected(result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return missing
	}

	return nil
}
