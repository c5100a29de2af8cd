// Package memory provides an in-memory persistence implementation for tests
// and local development. It honors the same transactional and error
// semantics as the SQL-backed implementations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence"
)

type Persistence struct {
	mu        sync.RWMutex
	pipelines map[string]*models.Pipeline
	runs      map[string]*models.Run
	steps     map[string][]*models.Step     // run id -> steps ordered by ordinal
	logs      map[string][]*models.LogEntry // run id -> entries ordered by seq
	logSeq    map[string]int64              // run id -> last assigned seq
}

func NewPersistence() *Persistence {
	return &Persistence{
		pipelines: make(map[string]*models.Pipeline),
		runs:      make(map[string]*models.Run),
		steps:     make(map[string][]*models.Step),
		logs:      make(map[string][]*models.LogEntry),
		logSeq:    make(map[string]int64),
	}
}

func (p *Persistence) Pipelines(_ context.Context) ([]*models.Pipeline, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pipelines := make([]*models.Pipeline, 0, len(p.pipelines))

	for _, pipeline := range p.pipelines {
		if pipeline.DeletedAt != nil {
			continue
		}

		clone := *pipeline
		pipelines = append(pipelines, &clone)
	}

	sort.Slice(pipelines, func(i, j int) bool {
		return pipelines[i].CreatedAt.Before(pipelines[j].CreatedAt)
	})

	return pipelines, nil
}

func (p *Persistence) PipelineByID(_ context.Context, id string) (*models.Pipeline, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pipeline, ok := p.pipelines[id]
	if !ok || pipeline.DeletedAt != nil {
		return nil, persistence.ErrPipelineNotFound
	}

	clone := *pipeline

	return &clone, nil
}

func (p *Persistence) SavePipeline(_ context.Context, pipeline *models.Pipeline) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if pipeline.CreatedAt.IsZero() {
		pipeline.CreatedAt = now
	}

	pipeline.UpdatedAt = now

	clone := *pipeline
	p.pipelines[pipeline.ID] = &clone

	return nil
}

func (p *Persistence) DeletePipeline(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pipeline, ok := p.pipelines[id]
	if !ok || pipeline.DeletedAt != nil {
		return persistence.ErrPipelineNotFound
	}

	now := time.Now().UTC()
	pipeline.DeletedAt = &now

	return nil
}

func (p *Persistence) CreateRun(_ context.Context, run *models.Run, steps []*models.Step) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pipelines[run.PipelineID]; !ok {
		return persistence.ErrPipelineNotFound
	}

	if _, ok := p.runs[run.ID]; ok {
		return persistence.ErrRunAlreadyExists
	}

	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if seen[step.Ordinal] {
			return persistence.ErrStepAlreadyExists
		}

		seen[step.Ordinal] = true
	}

	runClone := *run
	p.runs[run.ID] = &runClone

	stepClones := make([]*models.Step, 0, len(steps))
	for _, step := range steps {
		clone := *step
		stepClones = append(stepClones, &clone)
	}

	sort.Slice(stepClones, func(i, j int) bool {
		return stepClones[i].Ordinal < stepClones[j].Ordinal
	})

	p.steps[run.ID] = stepClones

	return nil
}

func (p *Persistence) RunByID(_ context.Context, id string) (*models.Run, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	run, ok := p.runs[id]
	if !ok {
		return nil, persistence.ErrRunNotFound
	}

	clone := *run

	return &clone, nil
}

func (p *Persistence) UpdateRun(_ context.Context, run *models.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.runs[run.ID]
	if !ok {
		return persistence.ErrRunNotFound
	}

	// Preserve an already-set cancellation request: the flag is set by a
	// different writer than the worker driving the run.
	clone := *run
	clone.CancelRequested = clone.CancelRequested || stored.CancelRequested
	p.runs[run.ID] = &clone

	return nil
}

func (p *Persistence) RequestRunCancel(_ context.Context, runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	run, ok := p.runs[runID]
	if !ok {
		return persistence.ErrRunNotFound
	}

	run.CancelRequested = true

	return nil
}

func (p *Persistence) StepsByRun(_ context.Context, runID string) ([]*models.Step, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.runs[runID]; !ok {
		return nil, persistence.ErrRunNotFound
	}

	steps := make([]*models.Step, 0, len(p.steps[runID]))

	for _, step := range p.steps[runID] {
		clone := *step
		steps = append(steps, &clone)
	}

	return steps, nil
}

func (p *Persistence) UpdateStep(_ context.Context, step *models.Step) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, stored := range p.steps[step.RunID] {
		if stored.ID == step.ID {
			clone := *step
			p.steps[step.RunID][i] = &clone

			return nil
		}
	}

	return persistence.ErrStepNotFound
}

func (p *Persistence) TouchStepHeartbeat(_ context.Context, stepID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, steps := range p.steps {
		for _, step := range steps {
			if step.ID == stepID {
				heartbeat := at
				step.HeartbeatAt = &heartbeat

				return nil
			}
		}
	}

	return persistence.ErrStepNotFound
}

func (p *Persistence) AppendLog(_ context.Context, entry *models.LogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.runs[entry.RunID]; !ok {
		return persistence.ErrRunNotFound
	}

	p.logSeq[entry.RunID]++
	entry.Seq = p.logSeq[entry.RunID]

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	clone := *entry
	p.logs[entry.RunID] = append(p.logs[entry.RunID], &clone)

	return nil
}

func (p *Persistence) LogsAfter(_ context.Context, runID string, after int64, limit int) ([]*models.LogEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.runs[runID]; !ok {
		return nil, persistence.ErrRunNotFound
	}

	entries := make([]*models.LogEntry, 0)

	for _, entry := range p.logs[runID] {
		if entry.Seq <= after {
			continue
		}

		clone := *entry
		entries = append(entries, &clone)

		if limit > 0 && len(entries) >= limit {
			break
		}
	}

	return entries, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
