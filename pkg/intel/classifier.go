// Package intel converts execution failures into root-cause
// classifications and drives bounded auto-remediation or escalation to
// external incident and ticketing systems.
package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fluxline/fluxline/pkg/models"
)

// Classifier assigns a root-cause classification to a failure event.
type Classifier interface {
	Classify(ctx context.Context, failure models.FailureEvent) (models.Classification, error)
}

// RuleClassifier applies a fixed set of deterministic substring rules.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

func (c *RuleClassifier) Classify(_ context.Context, failure models.FailureEvent) (models.Classification, error) {
	message := strings.ToLower(failure.ErrorMessage)

	switch {
	case strings.Contains(message, "column") && strings.Contains(message, "does not exist"):
		return models.Classification{
			Category:     models.FailureSchemaChange,
			Confidence:   0.9,
			RootCause:    "a referenced column is missing from the source schema",
			SuggestedFix: "update the step query to match the current schema",
			AutoFixable:  false,
		}, nil
	case strings.Contains(message, "connection") || strings.Contains(message, "econnrefused"):
		return models.Classification{
			Category:     models.FailureConnectionError,
			Confidence:   0.85,
			RootCause:    "the backend engine was unreachable",
			SuggestedFix: "verify connectivity and retry",
			AutoFixable:  true,
		}, nil
	case strings.Contains(message, "timeout"):
		return models.Classification{
			Category:     models.FailureTimeout,
			Confidence:   0.8,
			RootCause:    "the step exceeded its configured timeout",
			SuggestedFix: "raise the step timeout or reduce the query scope",
			AutoFixable:  true,
		}, nil
	case strings.Contains(message, "permission") || strings.Contains(message, "denied"):
		return models.Classification{
			Category:     models.FailurePermission,
			Confidence:   0.85,
			RootCause:    "the engine credentials lack a required privilege",
			SuggestedFix: "grant the missing privilege to the pipeline credentials",
			AutoFixable:  false,
		}, nil
	case strings.Contains(message, "constraint") || strings.Contains(message, "duplicate") || strings.Contains(message, "null"):
		return models.Classification{
			Category:     models.FailureDataQuality,
			Confidence:   0.85,
			RootCause:    "the data violated an integrity constraint",
			SuggestedFix: "inspect the offending rows upstream",
			AutoFixable:  false,
		}, nil
	default:
		return models.Classification{
			Category:   models.FailureUnknown,
			Confidence: 0.3,
			RootCause:  "no known failure pattern matched",
		}, nil
	}
}

// HTTPClassifier calls an external classification service and falls back to
// the deterministic rules when the call fails.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
	fallback *RuleClassifier
	logger   *slog.Logger
}

func NewHTTPClassifier(endpoint string, client *http.Client, logger *slog.Logger) *HTTPClassifier {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPClassifier{
		endpoint: endpoint,
		client:   client,
		fallback: NewRuleClassifier(),
		logger:   logger.With("module", "http_classifier"),
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, failure models.FailureEvent) (models.Classification, error) {
	classification, err := c.call(ctx, failure)
	if err != nil {
		c.logger.WarnContext(ctx, "External classifier unavailable, using rules", "error", err)

		return c.fallback.Classify(ctx, failure)
	}

	return classification, nil
}

func (c *HTTPClassifier) call(ctx context.Context, failure models.FailureEvent) (models.Classification, error) {
	payload, err := json.Marshal(failure)
	if err != nil {
		return models.Classification{}, fmt.Errorf("failed to marshal failure event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.Classification{}, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Classification{}, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return models.Classification{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Classification{}, err
	}

	var classification models.Classification

	err = json.Unmarshal(body, &classification)
	if err != nil {
		return models.Classification{}, fmt.Errorf("failed to decode classification: %w", err)
	}

	return classification, nil
}
