// Package web provides the HTTP handlers for pipeline management and run
// control.
package web

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/fluxline/fluxline/pkg/models"
	"github.com/fluxline/fluxline/pkg/services"
)

const defaultLogPageSize = 100

type APIHandlers struct {
	pipelineService *services.PipelineService
	runService      *services.RunService
}

func NewAPIHandlers(pipelineService *services.PipelineService, runService *services.RunService) *APIHandlers {
	return &APIHandlers{
		pipelineService: pipelineService,
		runService:      runService,
	}
}

func (h *APIHandlers) GetPipelines(c fiber.Ctx) error {
	pipelines, err := h.pipelineService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"pipelines": pipelines})
}

func (h *APIHandlers) GetPipeline(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	pipeline, err := h.pipelineService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(pipeline)
}

func (h *APIHandlers) CreatePipeline(c fiber.Ctx) error {
	var pipeline models.Pipeline

	err := c.Bind().JSON(&pipeline)
	if err != nil {
		return badRequest(c, "Invalid pipeline payload: "+err.Error())
	}

	pipeline.ID = ""

	saved, err := h.pipelineService.Save(c.Context(), &pipeline)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (h *APIHandlers) UpdatePipeline(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	existing, err := h.pipelineService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	var pipeline models.Pipeline

	err = c.Bind().JSON(&pipeline)
	if err != nil {
		return badRequest(c, "Invalid pipeline payload: "+err.Error())
	}

	pipeline.ID = existing.ID
	pipeline.CreatedAt = existing.CreatedAt

	saved, err := h.pipelineService.Save(c.Context(), &pipeline)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(saved)
}

func (h *APIHandlers) DeletePipeline(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	err := h.pipelineService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TriggerRun queues a run for the pipeline and answers 202: the run
// executes asynchronously on a worker.
func (h *APIHandlers) TriggerRun(c fiber.Ctx) error {
	pipelineID := c.Params("id")
	if pipelineID == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	run, err := h.runService.TriggerRun(c.Context(), pipelineID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	runID := c.Params("id")
	if runID == "" {
		return badRequest(c, "Run ID is required")
	}

	run, steps, err := h.runService.Run(c.Context(), runID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"run":   run,
		"steps": steps,
	})
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	runID := c.Params("id")
	if runID == "" {
		return badRequest(c, "Run ID is required")
	}

	err := h.runService.CancelRun(c.Context(), runID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id":           runID,
		"cancel_requested": true,
	})
}

func (h *APIHandlers) RetryRun(c fiber.Ctx) error {
	runID := c.Params("id")
	if runID == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.RetryRun(c.Context(), runID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

// GetRunLogs reads run log entries after the given cursor and returns the
// cursor for the next page.
func (h *APIHandlers) GetRunLogs(c fiber.Ctx) error {
	runID := c.Params("id")
	if runID == "" {
		return badRequest(c, "Run ID is required")
	}

	var after int64

	if afterStr := c.Query("after"); afterStr != "" {
		parsed, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil || parsed < 0 {
			return badRequest(c, "Invalid after cursor")
		}

		after = parsed
	}

	limit := defaultLogPageSize

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "Invalid limit")
		}

		limit = parsed
	}

	entries, next, err := h.runService.Logs(c.Context(), runID, after, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"next":    next,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.pipelineService.HealthCheck(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}
