package executor

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // postgres driver

	"github.com/fluxline/fluxline/pkg/models"
)

func (e *UnifiedExecutor) executePostgres(ctx context.Context, conn *models.PostgresConfig, query string) (*Result, error) {
	db, err := sql.Open("postgres", conn.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	defer func() {
		closeErr := db.Close()
		if closeErr != nil {
			e.logger.Error("failed to close postgres connection", "error", closeErr)
		}
	}()

	err = db.PingContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			e.logger.Error("failed to close result rows", "error", closeErr)
		}
	}()

	fields, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &Result{Fields: fields}

	values := make([]sql.RawBytes, len(fields))
	scanArgs := make([]any, len(fields))

	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		result.RowCount++

		if len(result.Sample) >= SampleLimit {
			continue
		}

		err := rows.Scan(scanArgs...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		row := make(map[string]any, len(fields))

		for i, field := range fields {
			if values[i] == nil {
				row[field] = nil
			} else {
				row[field] = string(values[i])
			}
		}

		result.Sample = append(result.Sample, row)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}
