package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/persistence"
)

// PipelineService owns pipeline definitions: listing, fetching, upserting
// and soft deletion.
type PipelineService struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewPipelineService(store persistence.Persistence, logger *slog.Logger) *PipelineService {
	return &PipelineService{
		persistence: store,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "pipeline_service"),
	}
}

func (s *PipelineService) List(ctx context.Context) ([]*models.Pipeline, error) {
	return s.persistence.Pipelines(ctx)
}

func (s *PipelineService) FetchByID(ctx context.Context, id string) (*models.Pipeline, error) {
	return s.persistence.PipelineByID(ctx, id)
}

// Save validates and persists the pipeline. A missing ID means create; the
// step parameter schemas are enforced here so bad definitions never reach a
// run.
func (s *PipelineService) Save(ctx context.Context, pipeline *models.Pipeline) (*models.Pipeline, error) {
	if pipeline.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate pipeline ID: %w", err)
		}

		pipeline.ID = id.String()
		pipeline.CreatedAt = time.Now().UTC()
	}

	pipeline.UpdatedAt = time.Now().UTC()

	err := s.validate.Struct(pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStep, err)
	}

	for ordinal, step := range pipeline.Steps {
		err = validateStep(ordinal, step)
		if err != nil {
			return nil, err
		}
	}

	err = s.persistence.SavePipeline(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to save pipeline: %w", err)
	}

	s.logger.InfoContext(ctx, "Pipeline saved", "pipeline_id", pipeline.ID, "steps", len(pipeline.Steps))

	return pipeline, nil
}

func (s *PipelineService) Delete(ctx context.Context, id string) error {
	err := s.persistence.DeletePipeline(ctx, id)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Pipeline deleted", "pipeline_id", id)

	return nil
}

func (s *PipelineService) HealthCheck(ctx context.Context) error {
	return s.persistence.HealthCheck(ctx)
}
