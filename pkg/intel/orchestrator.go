package intel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fluxline/fluxline/pkg/models"
)

// Outcome summarizes what the orchestrator did for one failure.
type Outcome struct {
	Classification models.Classification `json:"classification"`
	Severity       models.Severity       `json:"severity"`
	Remediated     bool                  `json:"remediated"`
	Escalated      bool                  `json:"escalated"`
	Incident       models.Reference      `json:"incident,omitempty"`
	Ticket         models.Reference      `json:"ticket,omitempty"`

	// TicketError is set when the incident was created but the linked
	// ticket could not be. The escalation still counts as done.
	TicketError string `json:"ticket_error,omitempty"`
}

const defaultSeenLimit = 1024

// Orchestrator drives the failure workflow: classify, remediate when the
// category is auto-fixable, escalate to the incident and ticketing systems
// otherwise. Repeat deliveries of the same failure return the prior outcome.
type Orchestrator struct {
	classifier Classifier
	knowledge  *KnowledgeBase
	remediator *Remediator
	incidents  IncidentAdapter
	tickets    TicketAdapter
	logger     *slog.Logger

	mu        sync.Mutex
	seen      map[string]Outcome
	seenOrder []string // insertion order for eviction
	seenLimit int
}

func NewOrchestrator(
	classifier Classifier,
	knowledge *KnowledgeBase,
	remediator *Remediator,
	incidents IncidentAdapter,
	tickets TicketAdapter,
	logger *slog.Logger,
) *Orchestrator {
	if knowledge == nil {
		knowledge = NewKnowledgeBase(0)
	}

	return &Orchestrator{
		classifier: classifier,
		knowledge:  knowledge,
		remediator: remediator,
		incidents:  incidents,
		tickets:    tickets,
		logger:     logger.With("module", "intel_orchestrator"),
		seen:       make(map[string]Outcome),
		seenLimit:  defaultSeenLimit,
	}
}

// HandleFailure runs the full workflow for one failure event. The returned
// error covers classification only; adapter problems are reported inside
// the outcome so a flaky ticketing system never aborts the workflow.
func (o *Orchestrator) HandleFailure(ctx context.Context, failure models.FailureEvent) (Outcome, error) {
	key := dedupKey(failure)

	o.mu.Lock()
	prior, ok := o.seen[key]
	o.mu.Unlock()

	if ok {
		o.logger.InfoContext(ctx, "Failure already handled", "run_id", failure.RunID, "step_id", failure.StepID)

		return prior, nil
	}

	classification, err := o.classify(ctx, failure)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to classify failure: %w", err)
	}

	outcome := Outcome{
		Classification: classification,
		Severity:       SeverityFor(classification.Confidence, classification.Category, failure.AttemptNumber),
	}

	o.logger.InfoContext(ctx, "Failure classified",
		"run_id", failure.RunID,
		"category", classification.Category,
		"confidence", classification.Confidence,
		"severity", outcome.Severity)

	if o.remediator != nil {
		result := o.remediator.Remediate(ctx, classification, failure)
		outcome.Remediated = result.Succeeded
	}

	if !outcome.Remediated {
		o.escalate(ctx, failure, &outcome)
	}

	o.remember(key, outcome)

	return outcome, nil
}

// remember caches the outcome for dedup, evicting the oldest entry when at
// capacity.
func (o *Orchestrator) remember(key string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.seen[key]; !ok {
		if len(o.seenOrder) >= o.seenLimit {
			oldest := o.seenOrder[0]
			o.seenOrder = o.seenOrder[1:]
			delete(o.seen, oldest)
		}

		o.seenOrder = append(o.seenOrder, key)
	}

	o.seen[key] = outcome
}

func (o *Orchestrator) classify(ctx context.Context, failure models.FailureEvent) (models.Classification, error) {
	if cached, ok := o.knowledge.Lookup(failure.ErrorMessage); ok {
		o.logger.InfoContext(ctx, "Known failure pattern", "run_id", failure.RunID, "category", cached.Category)

		return cached, nil
	}

	classification, err := o.classifier.Classify(ctx, failure)
	if err != nil {
		return models.Classification{}, err
	}

	o.knowledge.Store(failure.ErrorMessage, classification)

	return classification, nil
}

func (o *Orchestrator) escalate(ctx context.Context, failure models.FailureEvent, outcome *Outcome) {
	if o.incidents == nil {
		return
	}

	incident, err := o.incidents.CreateIncident(ctx, IncidentRequest{
		Title:        fmt.Sprintf("Pipeline %s failed: %s", failure.PipelineName, outcome.Classification.Category),
		Severity:     outcome.Severity,
		PipelineID:   failure.PipelineID,
		PipelineName: failure.PipelineName,
		RunID:        failure.RunID,
		Category:     outcome.Classification.Category,
		RootCause:    outcome.Classification.RootCause,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to create incident", "run_id", failure.RunID, "error", err)

		return
	}

	outcome.Escalated = true
	outcome.Incident = incident

	if o.tickets == nil {
		return
	}

	ticket, err := o.tickets.CreateTicket(ctx, TicketRequest{
		Title:        fmt.Sprintf("Investigate pipeline %s failure", failure.PipelineName),
		Description:  outcome.Classification.RootCause,
		Severity:     outcome.Severity,
		IncidentRef:  incident,
		SuggestedFix: outcome.Classification.SuggestedFix,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to create ticket", "run_id", failure.RunID, "incident_id", incident.ID, "error", err)
		outcome.TicketError = err.Error()

		return
	}

	outcome.Ticket = ticket
}

func dedupKey(failure models.FailureEvent) string {
	return fmt.Sprintf("%s/%s/%d", failure.RunID, failure.StepID, failure.AttemptNumber)
}
