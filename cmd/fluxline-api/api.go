// Package main provides the Fluxline API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/fluxline/fluxline/pkg/eventbus"
	"github.com/fluxline/fluxline/pkg/persistence"
	"github.com/fluxline/fluxline/pkg/services"
	"github.com/fluxline/fluxline/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
}

func NewAPI(logger *slog.Logger, persistence persistence.Persistence, eventBus eventbus.EventBus) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
	}
}

func (a *API) App() *fiber.App {
	pipelineService := services.NewPipelineService(a.persistence, a.logger)
	runService := services.NewRunService(a.persistence, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(pipelineService, runService)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Fluxline API")
	})

	p := app.Group("/pipelines")
	p.Get("/", handlers.GetPipelines)
	p.Post("/", handlers.CreatePipeline)
	p.Get("/:id", handlers.GetPipeline)
	p.Patch("/:id", handlers.UpdatePipeline)
	p.Delete("/:id", handlers.DeletePipeline)
	p.Post("/:id/runs", handlers.TriggerRun)

	r := app.Group("/runs")
	r.Get("/:id", handlers.GetRun)
	r.Get("/:id/logs", handlers.GetRunLogs)
	r.Post("/:id/cancel", handlers.CancelRun)
	r.Post("/:id/retry", handlers.RetryRun)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
