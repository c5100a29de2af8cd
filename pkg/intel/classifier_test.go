package intel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxline/fluxline/pkg/models"
)

func TestRuleClassifier_Classify(t *testing.T) {
	testCases := []struct {
		name          string
		errorMessage  string
		category      models.FailureCategory
		minConfidence float64
		autoFixable   bool
	}{
		{
			name:          "missing column",
			errorMessage:  `pq: column "revenue" does not exist`,
			category:      models.FailureSchemaChange,
			minConfidence: 0.85,
			autoFixable:   false,
		},
		{
			name:          "connection refused",
			errorMessage:  "dial tcp 10.0.0.5:5432: connect: ECONNREFUSED",
			category:      models.FailureConnectionError,
			minConfidence: 0.8,
			autoFixable:   true,
		},
		{
			name:          "query timeout",
			errorMessage:  "query timed out after 30000 ms",
			category:      models.FailureTimeout,
			minConfidence: 0.75,
			autoFixable:   true,
		},
		{
			name:          "permission denied",
			errorMessage:  "pq: permission denied for table accounts",
			category:      models.FailurePermission,
			minConfidence: 0.8,
			autoFixable:   false,
		},
		{
			name:          "constraint violation",
			errorMessage:  "pq: duplicate key value violates unique constraint",
			category:      models.FailureDataQuality,
			minConfidence: 0.8,
			autoFixable:   false,
		},
		{
			name:          "unmatched message",
			errorMessage:  "something inexplicable happened",
			category:      models.FailureUnknown,
			minConfidence: 0.0,
			autoFixable:   false,
		},
	}

	classifier := NewRuleClassifier()

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			classification, err := classifier.Classify(context.Background(), models.FailureEvent{
				PipelineID:   "pipe-1",
				RunID:        "run-1",
				ErrorMessage: tc.errorMessage,
			})
			require.NoError(t, err)

			assert.Equal(t, tc.category, classification.Category)
			assert.GreaterOrEqual(t, classification.Confidence, tc.minConfidence)
			assert.Equal(t, tc.autoFixable, classification.AutoFixable)
		})
	}
}

func TestRuleClassifier_UnknownHasLowConfidence(t *testing.T) {
	classification, err := NewRuleClassifier().Classify(context.Background(), models.FailureEvent{
		ErrorMessage: "???",
	})
	require.NoError(t, err)

	assert.Equal(t, models.FailureUnknown, classification.Category)
	assert.Less(t, classification.Confidence, 0.5)
}

func TestHTTPClassifier_UsesRemoteClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var failure models.FailureEvent

		require.NoError(t, json.NewDecoder(r.Body).Decode(&failure))
		assert.Equal(t, "run-1", failure.RunID)

		_ = json.NewEncoder(w).Encode(models.Classification{
			Category:   models.FailureSchemaChange,
			Confidence: 0.95,
			RootCause:  "remote verdict",
		})
	}))
	defer server.Close()

	classifier := NewHTTPClassifier(server.URL, server.Client(), slog.Default())

	classification, err := classifier.Classify(context.Background(), models.FailureEvent{
		PipelineID:   "pipe-1",
		RunID:        "run-1",
		ErrorMessage: "whatever",
	})
	require.NoError(t, err)

	assert.Equal(t, models.FailureSchemaChange, classification.Category)
	assert.InDelta(t, 0.95, classification.Confidence, 0.001)
	assert.Equal(t, "remote verdict", classification.RootCause)
}

func TestHTTPClassifier_FallsBackToRules(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	classifier := NewHTTPClassifier(server.URL, server.Client(), slog.Default())

	classification, err := classifier.Classify(context.Background(), models.FailureEvent{
		ErrorMessage: "connection refused",
	})
	require.NoError(t, err)

	assert.Equal(t, models.FailureConnectionError, classification.Category)
}
