// Package executor runs a single step's query against its backend engine
// under a bounded timeout and returns a normalized result. Connections are
// short-lived: every engine opens its client on entry and closes it on every
// exit path. Leaking a connection here is a correctness bug.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxline/fluxline/pkg/models"
)

const (
	// SampleLimit bounds the number of rows carried back in the result.
	SampleLimit = 50

	MinTimeoutMs     = 1000   // 1s
	MaxTimeoutMs     = 600000 // 10min
	DefaultTimeoutMs = 30000
)

// Result is the normalized outcome of one step execution.
type Result struct {
	RowCount   int64            `json:"row_count"`
	DurationMs int64            `json:"duration_ms"`
	Fields     []string         `json:"fields,omitempty"`
	Sample     []map[string]any `json:"sample,omitempty"`
}

type Executor interface {
	Execute(ctx context.Context, engine models.EngineConfig, query string, timeoutMs int) (*Result, error)
}

// UnifiedExecutor dispatches on the engine's tagged variant. Adding an
// engine means extending the switch below; the default arm only ever sees
// a genuinely unknown kind.
type UnifiedExecutor struct {
	logger *slog.Logger
}

func NewUnifiedExecutor(logger *slog.Logger) *UnifiedExecutor {
	return &UnifiedExecutor{
		logger: logger.With("module", "executor"),
	}
}

func (e *UnifiedExecutor) Execute(ctx context.Context, engine models.EngineConfig, query string, timeoutMs int) (*Result, error) {
	timeout, err := validateTimeout(timeoutMs)
	if err != nil {
		return nil, err
	}

	err = engine.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedQuery, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()

	var result *Result

	switch engine.Kind {
	case models.EnginePostgres:
		result, err = e.executePostgres(execCtx, engine.Postgres, query)
	case models.EngineRedis:
		result, err = e.executeRedis(execCtx, engine.Redis, query)
	case models.EngineHTTP:
		result, err = e.executeHTTP(execCtx, engine.HTTP, query)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownEngine, engine.Kind)
	}

	if err != nil {
		return nil, classify(execCtx, err)
	}

	result.DurationMs = time.Since(started).Milliseconds()

	e.logger.DebugContext(ctx, "Step query executed",
		"engine", engine.Kind,
		"row_count", result.RowCount,
		"duration_ms", result.DurationMs)

	return result, nil
}

// validateTimeout rejects malformed or out-of-range timeouts instead of
// silently clamping them. A zero value selects the default.
func validateTimeout(timeoutMs int) (time.Duration, error) {
	if timeoutMs == 0 {
		return DefaultTimeoutMs * time.Millisecond, nil
	}

	if timeoutMs < MinTimeoutMs || timeoutMs > MaxTimeoutMs {
		return 0, fmt.Errorf("%w: %d ms not in [%d, %d]", ErrInvalidTimeout, timeoutMs, MinTimeoutMs, MaxTimeoutMs)
	}

	return time.Duration(timeoutMs) * time.Millisecond, nil
}
