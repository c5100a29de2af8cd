package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence"
)

// LogRepository handles append-only run log storage. Sequence numbers are
// assigned inside a transaction that locks the run row, so entries within
// one run are strictly increasing with no duplicates even under concurrent
// writers to different steps of that run.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

func (r *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var runID string

	err = tx.QueryRowContext(ctx, "SELECT id FROM runs WHERE id = $1 FOR UPDATE", entry.RunID).Scan(&runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrRunNotFound
		}

		return fmt.Errorf("failed to lock run for log append: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM run_logs WHERE run_id = $1", entry.RunID).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("failed to assign log sequence: %w", err)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal log data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, seq, step_id, level, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.RunID,
		entry.Seq,
		entry.StepID,
		entry.Level,
		entry.Message,
		dataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit log append: %w", err)
	}

	return nil
}

func (r *LogRepository) After(ctx context.Context, runID string, after int64, limit int) ([]*models.LogEntry, error) {
	query := `
		SELECT
			run_id
		  , seq
		  , step_id
		  , level
		  , message
		  , data
		  , created_at
		FROM run_logs
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq ASC
	`

	args := []any{runID, after}

	if limit > 0 {
		query += " LIMIT $3"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query run logs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.LogEntry, 0)

	for rows.Next() {
		var (
			entry    models.LogEntry
			dataJSON []byte
		)

		err := rows.Scan(
			&entry.RunID,
			&entry.Seq,
			&entry.StepID,
			&entry.Level,
			&entry.Message,
			&dataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		err = json.Unmarshal(dataJSON, &entry.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating run logs: %w", err)
	}

	return entries, nil
}
