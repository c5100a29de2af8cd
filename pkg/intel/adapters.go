package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fluxline/fluxline/pkg/models"
)

// IncidentRequest describes the incident to open for an escalated failure.
type IncidentRequest struct {
	Title        string                `json:"title"`
	Severity     models.Severity       `json:"severity"`
	PipelineID   string                `json:"pipeline_id"`
	PipelineName string                `json:"pipeline_name"`
	RunID        string                `json:"run_id"`
	Category     models.FailureCategory `json:"category"`
	RootCause    string                `json:"root_cause"`
}

// TicketRequest describes the tracking ticket linked to an incident.
type TicketRequest struct {
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Severity     models.Severity  `json:"severity"`
	IncidentRef  models.Reference `json:"incident_ref"`
	SuggestedFix string           `json:"suggested_fix,omitempty"`
}

// IncidentAdapter creates incidents in an external incident system.
type IncidentAdapter interface {
	CreateIncident(ctx context.Context, incident IncidentRequest) (models.Reference, error)
}

// TicketAdapter creates tracking tickets in an external ticketing system.
type TicketAdapter interface {
	CreateTicket(ctx context.Context, ticket TicketRequest) (models.Reference, error)
}

// WebhookAdapter posts requests to an external HTTP endpoint and reads back
// an opaque {id, url} reference. It implements both adapter interfaces.
type WebhookAdapter struct {
	endpoint string
	client   *http.Client
}

func NewWebhookAdapter(endpoint string, client *http.Client) *WebhookAdapter {
	if client == nil {
		client = http.DefaultClient
	}

	return &WebhookAdapter{endpoint: endpoint, client: client}
}

func (a *WebhookAdapter) CreateIncident(ctx context.Context, incident IncidentRequest) (models.Reference, error) {
	return a.post(ctx, incident)
}

func (a *WebhookAdapter) CreateTicket(ctx context.Context, ticket TicketRequest) (models.Reference, error) {
	return a.post(ctx, ticket)
}

func (a *WebhookAdapter) post(ctx context.Context, payload any) (models.Reference, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Reference{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Reference{}, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return models.Reference{}, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Reference{}, fmt.Errorf("adapter returned status %d", resp.StatusCode)
	}

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Reference{}, err
	}

	var reference models.Reference

	err = json.Unmarshal(responseBody, &reference)
	if err != nil {
		return models.Reference{}, fmt.Errorf("failed to decode reference: %w", err)
	}

	return reference, nil
}
