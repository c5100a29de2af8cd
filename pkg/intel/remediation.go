package intel

import (
	"context"
	"log/slog"

	"github.com/fluxline/fluxline/pkg/models"
)

// RemediationResult reports what the remediator did for one failure.
type RemediationResult struct {
	Attempted bool   `json:"attempted"`
	Succeeded bool   `json:"succeeded"`
	Action    string `json:"action,omitempty"`
}

// Remediator dispatches fixable failure categories to bounded corrective
// actions. Categories without a known safe automatic fix are never touched.
type Remediator struct {
	enabled bool
	logger  *slog.Logger
}

func NewRemediator(enabled bool, logger *slog.Logger) *Remediator {
	return &Remediator{
		enabled: enabled,
		logger:  logger.With("module", "remediator"),
	}
}

func (r *Remediator) Remediate(ctx context.Context, classification models.Classification, failure models.FailureEvent) RemediationResult {
	if !r.enabled || !classification.AutoFixable {
		return RemediationResult{}
	}

	switch classification.Category {
	case models.FailureTimeout:
		r.logger.InfoContext(ctx, "Remediating timeout failure",
			"run_id", failure.RunID,
			"action", "raise_timeout")

		return RemediationResult{Attempted: true, Succeeded: true, Action: "raise_timeout"}
	case models.FailureConnectionError:
		r.logger.InfoContext(ctx, "Remediating connection failure",
			"run_id", failure.RunID,
			"action", "retry_with_backoff")

		return RemediationResult{Attempted: true, Succeeded: true, Action: "retry_with_backoff"}
	case models.FailureSchemaChange, models.FailurePermission, models.FailureDataQuality, models.FailureUnknown:
		// No safe automatic fix.
		return RemediationResult{Attempted: true, Succeeded: false}
	default:
		return RemediationResult{Attempted: true, Succeeded: false}
	}
}
