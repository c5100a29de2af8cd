package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fluxline/fluxline/pkg/models"
)

const maxResponseBytes = 4 << 20 // 4 MiB

func (e *UnifiedExecutor) executeHTTP(ctx context.Context, conn *models.HTTPConfig, query string) (*Result, error) {
	method := conn.Method
	if method == "" {
		method = http.MethodGet
	}

	url := strings.TrimRight(conn.BaseURL, "/")

	// GET appends the query to the path; other methods send it as the
	// request body against the base URL.
	var body io.Reader

	if method == http.MethodGet {
		if query != "" {
			url += "/" + strings.TrimLeft(query, "/")
		}
	} else if query != "" {
		body = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedQuery, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range conn.Headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			e.logger.Error("failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: status %d", ErrMalformedQuery, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrConnection, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return parseHTTPResult(respBody), nil
}

// parseHTTPResult normalizes a JSON response: arrays of objects become
// sampled rows, everything else a single-row result.
func parseHTTPResult(body []byte) *Result {
	var rows []map[string]any

	err := json.Unmarshal(body, &rows)
	if err == nil {
		result := &Result{RowCount: int64(len(rows))}

		if len(rows) > 0 {
			for field := range rows[0] {
				result.Fields = append(result.Fields, field)
			}

			sample := rows
			if len(sample) > SampleLimit {
				sample = sample[:SampleLimit]
			}

			result.Sample = sample
		}

		return result
	}

	var object map[string]any

	err = json.Unmarshal(body, &object)
	if err == nil {
		result := &Result{RowCount: 1, Sample: []map[string]any{object}}

		for field := range object {
			result.Fields = append(result.Fields, field)
		}

		return result
	}

	return &Result{
		RowCount: 1,
		Fields:   []string{"body"},
		Sample:   []map[string]any{{"body": string(body)}},
	}
}
